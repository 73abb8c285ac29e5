package notify

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// Zabbix protocol constants.
const (
	zabbixTimeout     = 5 * time.Second
	zabbixHeaderSize  = 13        // "ZBXD\x01" (5) + uint64 length (8)
	zabbixDefaultPort = 10051     // Trapper port
	maxReplySize      = 64 * 1024 // 64KB max reply to prevent memory exhaustion
)

// zabbixMagic is the protocol header prefix.
var zabbixMagic = [5]byte{'Z', 'B', 'X', 'D', 0x01}

type zabbixRequest struct {
	Request string       `json:"request"`
	Data    []zabbixItem `json:"data"`
}

type zabbixItem struct {
	Host  string `json:"host"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type zabbixResponse struct {
	Response string `json:"response"`
	Info     string `json:"info"`
}

// zabbixConfigured reports whether cfg names a server, host and item key.
func zabbixConfigured(cfg *types.ZabbixConfig) bool {
	return cfg.Server != "" && cfg.Host != "" && cfg.Key != ""
}

// SendZabbixEvent sends event as a trapper item value. An unconfigured
// server is a no-op.
func SendZabbixEvent(ctx context.Context, cfg *types.ZabbixConfig, event Event) error {
	if !zabbixConfigured(cfg) {
		return nil
	}
	port := cfg.Port
	if port == 0 {
		port = zabbixDefaultPort
	}
	return sendZabbixPayload(ctx, cfg.Server, port, zabbixRequest{
		Request: "sender data",
		Data:    []zabbixItem{{Host: cfg.Host, Key: cfg.Key, Value: zabbixValue(event)}},
	})
}

// zabbixValue renders an event as space-separated key=value pairs.
func zabbixValue(e Event) string {
	parts := []string{"event=" + strings.ToUpper(string(e.Type))}
	if e.BroadcastID != "" {
		parts = append(parts, "broadcast="+e.BroadcastID)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	return strings.Join(parts, " ")
}

// sendZabbixPayload sends a payload to the Zabbix server.
func sendZabbixPayload(ctx context.Context, server string, port int, payload zabbixRequest) error {
	addr := net.JoinHostPort(server, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: zabbixTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return util.WrapError("connect to zabbix", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(zabbixTimeout)); err != nil {
		return util.WrapError("set deadline", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal zabbix payload", err)
	}

	// Build header: "ZBXD\x01" + 8-byte little endian length
	header := make([]byte, zabbixHeaderSize)
	copy(header[0:5], zabbixMagic[:])
	binary.LittleEndian.PutUint64(header[5:], uint64(len(data)))

	if _, err := conn.Write(append(header, data...)); err != nil {
		return util.WrapError("write zabbix request", err)
	}

	replyHeader := make([]byte, zabbixHeaderSize)
	if _, err := io.ReadFull(conn, replyHeader); err != nil {
		return util.WrapError("read zabbix reply header", err)
	}
	if !bytes.Equal(replyHeader[0:5], zabbixMagic[:]) {
		return fmt.Errorf("invalid zabbix reply header")
	}

	replyLen := binary.LittleEndian.Uint64(replyHeader[5:zabbixHeaderSize])
	if replyLen == 0 {
		return fmt.Errorf("empty zabbix reply")
	}
	if replyLen > maxReplySize {
		return fmt.Errorf("zabbix reply too large: %d bytes (max %d)", replyLen, maxReplySize)
	}

	reply := make([]byte, replyLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return util.WrapError("read zabbix reply body", err)
	}

	var resp zabbixResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return util.WrapError("parse zabbix reply", err)
	}
	if resp.Response == "failed" {
		return fmt.Errorf("zabbix rejected data: %s", resp.Info)
	}
	// Host or key unknown to the server.
	if strings.Contains(resp.Info, "processed: 0;") && strings.Contains(resp.Info, "failed: 0;") {
		return fmt.Errorf("zabbix processed no items (check host/key config)")
	}

	return nil
}
