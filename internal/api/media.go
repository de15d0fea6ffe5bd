package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/roach88/chatsync/internal/chat"
)

// MediaUpload describes a local file to send as a media message.
type MediaUpload struct {
	// Path is the local reference of the file.
	Path        string
	Kind        chat.Kind
	ClientToken string
}

// DetectKind sniffs a local file and maps its MIME type to a message kind.
func DetectKind(path string) (chat.Kind, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect media type: %w", err)
	}
	return KindForMIME(mt.String()), nil
}

// KindForMIME maps a MIME type to a message kind. Unknown types are sent as files.
func KindForMIME(mime string) chat.Kind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return chat.KindImage
	case strings.HasPrefix(mime, "audio/"):
		return chat.KindAudio
	case strings.HasPrefix(mime, "video/"):
		return chat.KindVideo
	default:
		return chat.KindFile
	}
}

// SendMediaMessage uploads a file as a multipart form
// (file, kind, name, size, clientToken).
func (c *Client) SendMediaMessage(ctx context.Context, roomID string, up MediaUpload) (*SendResponse, error) {
	data, err := os.ReadFile(up.Path)
	if err != nil {
		return nil, fmt.Errorf("read media %s: %w", up.Path, err)
	}
	kind := up.Kind
	if kind == "" {
		kind = KindForMIME(mimetype.Detect(data).String())
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := filepath.Base(up.Path)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimetype.Detect(data).String())
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}

	fields := map[string]string{
		"kind": string(kind),
		"name": name,
		"size": strconv.Itoa(len(data)),
	}
	if up.ClientToken != "" {
		fields["clientToken"] = up.ClientToken
	}
	for _, k := range []string{"kind", "name", "size", "clientToken"} {
		v, ok := fields[k]
		if !ok {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write %s field: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	respBody, err := c.doRequestWithin(ctx, c.UploadTimeout, http.MethodPost, roomPath(roomID, "media"), w.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}

	var resp SendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode send media: %w", err)
	}
	if resp.MessageID == "" && resp.Message == nil {
		return nil, fmt.Errorf("send media: response has no messageId")
	}
	if resp.MessageID == "" {
		resp.MessageID = resp.Message.ID
	}
	return &resp, nil
}
