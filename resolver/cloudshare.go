package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"linkfetch/internal"
	"linkfetch/utils"
)

// CloudShareConfig selects the cloud-share variant and its endpoints
type CloudShareConfig struct {
	Mode             string
	InfoEndpoint     string
	DownloadEndpoint string
	ProxyBaseURL     string
	// APIHeaders are sent to the share-id metadata and download endpoints
	APIHeaders map[string]string
	// ProxyPageHeaders and ProxySubmitHeaders are sent in proxy mode
	ProxyPageHeaders   map[string]string
	ProxySubmitHeaders map[string]string
}

// ShareFile is the success payload of a share-id resolution
type ShareFile struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"size_human"`
	FsID        string `json:"fs_id"`
	Category    string `json:"category"`
	IsVideo     bool   `json:"is_video"`
	ShareID     string `json:"share_id"`
	DownloadURL string `json:"download_url"`
}

// CloudShareAdapter resolves Terabox-class share links
type CloudShareAdapter struct {
	config   CloudShareConfig
	sessions SessionSource
	logger   *internal.SecureLogger
}

// NewCloudShareAdapter creates a cloud-share adapter
func NewCloudShareAdapter(config CloudShareConfig, sessions SessionSource, logger *internal.SecureLogger) *CloudShareAdapter {
	if logger == nil {
		logger = internal.GetLogger()
	}
	if config.Mode == "" {
		config.Mode = internal.CloudShareModeShareID
	}
	config.ProxyBaseURL = strings.TrimRight(config.ProxyBaseURL, "/")
	return &CloudShareAdapter{config: config, sessions: sessions, logger: logger}
}

// Resolve runs the configured variant
func (a *CloudShareAdapter) Resolve(ctx context.Context, req *Request) Result {
	logger := a.logger.With("request_id", req.ID)

	if a.config.Mode == internal.CloudShareModeProxy {
		payload, err := a.resolveProxy(ctx, req.URL, logger)
		if err != nil {
			return FailureFrom(err)
		}
		return Succeed(payload)
	}

	file, err := a.resolveShare(ctx, req.URL, logger)
	if err != nil {
		return FailureFrom(err)
	}
	payload, err := marshalPayload(file)
	if err != nil {
		return FailureFrom(internal.NewDecodeError("failed to encode result", err))
	}
	return Succeed(sanitizePayload(payload))
}

// ResolveFile resolves a share link into download metadata. It always uses
// the share-id flow since only that flow reports size and filename.
func (a *CloudShareAdapter) ResolveFile(ctx context.Context, rawURL string) (*internal.FileMetadata, error) {
	file, err := a.resolveShare(ctx, rawURL, a.logger)
	if err != nil {
		return nil, err
	}
	return &internal.FileMetadata{
		Filename:  file.Filename,
		Size:      file.Size,
		DirectURL: file.DownloadURL,
		ShareID:   file.ShareID,
		SourceURL: rawURL,
		FsID:      file.FsID,
		IsVideo:   file.IsVideo,
		Timestamp: time.Now(),
	}, nil
}

// shareInfo is the metadata endpoint response. Identifiers are kept raw so
// they are echoed back with their original JSON types.
type shareInfo struct {
	OK        bool             `json:"ok"`
	List      []shareInfoEntry `json:"list"`
	ShareID   json.RawMessage  `json:"shareid"`
	UK        json.RawMessage  `json:"uk"`
	Sign      json.RawMessage  `json:"sign"`
	Timestamp json.RawMessage  `json:"timestamp"`
}

type shareInfoEntry struct {
	Filename *flexString     `json:"filename"`
	Size     *flexString     `json:"size"`
	FsID     json.RawMessage `json:"fs_id"`
	Category *flexString     `json:"category"`
}

type downloadRequest struct {
	ShareID   json.RawMessage `json:"shareid"`
	UK        json.RawMessage `json:"uk"`
	Sign      json.RawMessage `json:"sign"`
	Timestamp json.RawMessage `json:"timestamp"`
	FsID      json.RawMessage `json:"fs_id"`
}

type downloadResponse struct {
	OK           bool   `json:"ok"`
	DownloadLink string `json:"downloadLink"`
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if s, ok := utils.ScalarString(data); ok {
		*f = flexString(s)
		return nil
	}
	return fmt.Errorf("expected string or number, got %s", data)
}

// marshalPayload encodes v without HTML escaping so URLs stay readable
func marshalPayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func (a *CloudShareAdapter) resolveShare(ctx context.Context, rawURL string, logger *internal.SecureLogger) (*ShareFile, error) {
	link, err := utils.ParseShareLink(rawURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("parsed %s", link)

	session, err := a.sessions.NewSession()
	if err != nil {
		return nil, internal.NewTransportError("failed to create session", err)
	}

	query := url.Values{}
	query.Set("shorturl", link.ShareID)
	query.Set("pwd", link.Password)
	infoURL := a.config.InfoEndpoint + "?" + query.Encode()

	logger.Debug("fetching share metadata for %s", link.ShareID)
	resp, err := session.Get(ctx, infoURL, a.config.APIHeaders)
	if err != nil {
		return nil, internal.NewTransportError("metadata request failed", err)
	}
	if !resp.OK() {
		return nil, statusError("metadata request failed", resp)
	}

	var info shareInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, internal.NewDecodeError("metadata response is not valid JSON", err).
			WithContext("body_snippet", utils.Snippet(resp.Text(), 1000))
	}
	if !info.OK {
		return nil, internal.NewUpstreamNotOkError("Failed to fetch file information").
			WithContext("body_snippet", utils.Snippet(resp.Text(), 1000))
	}
	if len(info.List) == 0 {
		return nil, internal.NewMissingFieldError("list", "No files found in this link")
	}

	entry := info.List[0]
	file := &ShareFile{
		Filename: "Unknown",
		Category: "0",
		ShareID:  link.ShareID,
	}
	if entry.Filename != nil {
		file.Filename = string(*entry.Filename)
	}
	if entry.Category != nil {
		file.Category = string(*entry.Category)
	}
	if entry.Size != nil {
		size, err := strconv.ParseInt(strings.TrimSpace(string(*entry.Size)), 10, 64)
		if err != nil {
			return nil, internal.NewDecodeError(fmt.Sprintf("invalid file size %q", string(*entry.Size)), err)
		}
		file.Size = size
	}
	if !present(entry.FsID) {
		return nil, internal.NewMissingFieldError("fs_id", "Could not extract fs_id from file info")
	}
	if fsID, ok := utils.ScalarString(entry.FsID); ok {
		file.FsID = fsID
	}

	required := []struct {
		name string
		raw  json.RawMessage
	}{
		{"shareid", info.ShareID},
		{"uk", info.UK},
		{"sign", info.Sign},
		{"timestamp", info.Timestamp},
	}
	for _, field := range required {
		if !present(field.raw) {
			return nil, internal.NewMissingFieldError(field.name, fmt.Sprintf("Could not extract %s from file info", field.name))
		}
	}

	file.SizeHuman = FormatSize(file.Size)
	file.IsVideo = isVideo(file.Category, file.Filename)

	downloadURL, err := a.fetchDownloadLink(ctx, session, downloadRequest{
		ShareID:   info.ShareID,
		UK:        info.UK,
		Sign:      info.Sign,
		Timestamp: info.Timestamp,
		FsID:      entry.FsID,
	})
	if err != nil {
		return nil, err
	}
	file.DownloadURL = downloadURL

	logger.Debug("resolved %s (%s)", file.Filename, file.SizeHuman)
	return file, nil
}

func (a *CloudShareAdapter) fetchDownloadLink(ctx context.Context, session *utils.Session, body downloadRequest) (string, error) {
	headers := make(map[string]string, len(a.config.APIHeaders)+1)
	for k, v := range a.config.APIHeaders {
		headers[k] = v
	}
	headers["Origin"] = originOf(a.config.DownloadEndpoint)

	resp, err := session.PostJSON(ctx, a.config.DownloadEndpoint, body, headers)
	if err != nil {
		return "", internal.NewTransportError("download link request failed", err)
	}
	if !resp.OK() {
		return "", statusError("download link request failed", resp)
	}

	var dl downloadResponse
	if err := json.Unmarshal(resp.Body, &dl); err != nil {
		return "", internal.NewDecodeError("download response is not valid JSON", err).
			WithContext("body_snippet", utils.Snippet(resp.Text(), 1000))
	}
	if !dl.OK {
		return "", internal.NewUpstreamNotOkError("Failed to get download link").
			WithContext("body_snippet", utils.Snippet(resp.Text(), 1000))
	}
	if dl.DownloadLink == "" {
		return "", internal.NewMissingFieldError("downloadLink", "Download link not available")
	}
	return dl.DownloadLink, nil
}

func (a *CloudShareAdapter) resolveProxy(ctx context.Context, rawURL string, logger *internal.SecureLogger) (json.RawMessage, error) {
	session, err := a.sessions.NewSession()
	if err != nil {
		return nil, internal.NewTransportError("failed to create session", err)
	}

	base := a.config.ProxyBaseURL
	if _, err := session.Get(ctx, base, a.config.ProxyPageHeaders); err != nil {
		return nil, internal.NewTransportError(fmt.Sprintf("GET %s", base), err)
	}

	xsrf, ok := session.Cookie(base, "XSRF-TOKEN")
	if !ok || xsrf == "" {
		return nil, internal.NewMissingFieldError("XSRF-TOKEN", "Could not retrieve required cookies")
	}
	if sess, ok := session.Cookie(base, "playertera_session"); !ok || sess == "" {
		return nil, internal.NewMissingFieldError("playertera_session", "Could not retrieve required cookies")
	}

	headers := make(map[string]string, len(a.config.ProxySubmitHeaders)+3)
	for k, v := range a.config.ProxySubmitHeaders {
		headers[k] = v
	}
	headers["X-CSRF-Token"] = utils.CookieToken(xsrf)
	headers["Origin"] = originOf(base)
	headers["Referer"] = base + "/"

	endpoint := base + "/api/process-terabox"
	logger.Debug("submitting share link to %s", endpoint)
	resp, err := session.PostJSON(ctx, endpoint, map[string]string{"url": rawURL}, headers)
	if err != nil {
		return nil, internal.NewTransportError(fmt.Sprintf("POST %s", endpoint), err)
	}

	body := bytes.TrimSpace(resp.Body)
	if !json.Valid(body) {
		return nil, internal.NewDecodeError("Proxy endpoint did not return JSON", nil).
			WithContext("status", resp.StatusCode).
			WithContext("body_snippet", utils.Snippet(resp.Text(), 1000))
	}
	return sanitizePayload(body), nil
}

func statusError(operation string, resp *utils.Response) error {
	return internal.NewTransportError(fmt.Sprintf("%s: %s", operation, resp.Status), nil).
		WithContext("status", resp.StatusCode).
		WithContext("body_snippet", utils.Snippet(resp.Text(), 1000))
}

var timestampReplacements = [][2][]byte{
	{[]byte("×tamp="), []byte("&timestamp=")},
	{[]byte(`\u00d7tamp=`), []byte("&timestamp=")},
}

// sanitizePayload repairs "&times" in "&timestamp=" having been rendered
// as "×" somewhere upstream of the Terabox APIs.
func sanitizePayload(payload []byte) json.RawMessage {
	out := payload
	for _, r := range timestampReplacements {
		out = bytes.ReplaceAll(out, r[0], r[1])
	}
	return json.RawMessage(out)
}

var videoExtensions = []string{".mp4", ".mkv", ".avi", ".mov", ".webm", ".flv"}

func isVideo(category, filename string) bool {
	if category == "1" {
		return true
	}
	lower := strings.ToLower(filename)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// FormatSize renders a byte count with two decimals in B/KB/MB/GB/TB/PB
func FormatSize(n int64) string {
	size := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}
