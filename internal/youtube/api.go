package youtube

// liveStream is the subset of a liveStreams resource the client uses.
type liveStream struct {
	ID      string            `json:"id,omitempty"`
	Snippet *streamSnippet    `json:"snippet,omitempty"`
	CDN     *streamCDN        `json:"cdn,omitempty"`
	Status  *liveStreamStatus `json:"status,omitempty"`
}

type streamSnippet struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type streamCDN struct {
	FrameRate     string         `json:"frameRate"`
	IngestionType string         `json:"ingestionType"`
	Resolution    string         `json:"resolution"`
	IngestionInfo *ingestionInfo `json:"ingestionInfo,omitempty"`
}

type ingestionInfo struct {
	IngestionAddress string `json:"ingestionAddress"`
	StreamName       string `json:"streamName"`
}

type liveStreamStatus struct {
	StreamStatus string `json:"streamStatus"`
}

// liveBroadcast is the subset of a liveBroadcasts resource the client uses.
type liveBroadcast struct {
	ID             string                   `json:"id,omitempty"`
	Snippet        *broadcastSnippet        `json:"snippet,omitempty"`
	Status         *broadcastStatus         `json:"status,omitempty"`
	ContentDetails *broadcastContentDetails `json:"contentDetails,omitempty"`
}

type broadcastSnippet struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	ScheduledStartTime string `json:"scheduledStartTime"`
}

type broadcastStatus struct {
	PrivacyStatus           string `json:"privacyStatus,omitempty"`
	LifeCycleStatus         string `json:"lifeCycleStatus,omitempty"`
	SelfDeclaredMadeForKids *bool  `json:"selfDeclaredMadeForKids,omitempty"`
}

type broadcastContentDetails struct {
	EnableAutoStart bool           `json:"enableAutoStart"`
	EnableAutoStop  bool           `json:"enableAutoStop"`
	MonitorStream   *monitorStream `json:"monitorStream,omitempty"`
	BoundStreamID   string         `json:"boundStreamId,omitempty"`
}

type monitorStream struct {
	EnableMonitorStream bool `json:"enableMonitorStream"`
}

type streamList struct {
	Items []liveStream `json:"items"`
}

type broadcastList struct {
	Items []liveBroadcast `json:"items"`
}

// apiError is the error envelope of the Data API.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}
