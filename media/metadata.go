package media

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const metadataDateLayout = "2006-01-02T15:04:05-07:00"

// Metadata is the JSON sidecar written for every visited message.
type Metadata struct {
	MessageID int     `json:"message_id"`
	Date      string  `json:"date"`
	Text      string  `json:"text"`
	Views     int     `json:"views"`
	Forwards  int     `json:"forwards"`
	MediaPath *string `json:"media_path"`
	SenderID  *int64  `json:"sender_id"`
	HasMedia  bool    `json:"has_media"`
}

func NewMetadata(msg *Message, mediaPath string) *Metadata {
	md := &Metadata{
		MessageID: msg.ID,
		Date:      msg.Date.Format(metadataDateLayout),
		Text:      msg.Text,
		Views:     msg.Views,
		Forwards:  msg.Forwards,
		SenderID:  msg.SenderID,
		HasMedia:  msg.HasMedia,
	}
	if mediaPath != "" {
		md.MediaPath = &mediaPath
	}
	return md
}

func MetadataPath(root string, id int) string {
	return filepath.Join(root, MetadataFolder, fmt.Sprintf("msg%d_metadata.json", id))
}

// WriteMetadata always overwrites the sidecar, unlike media which is never
// downloaded twice.
func WriteMetadata(root string, md *Metadata) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(md); err != nil {
		return "", err
	}
	path := MetadataPath(root, md.MessageID)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write metadata %s: %w", path, err)
	}
	return path, nil
}

func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	md := new(Metadata)
	if err := json.Unmarshal(data, md); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return md, nil
}
