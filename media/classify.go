package media

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Kind string

const (
	KindNone     Kind = ""
	KindVideo    Kind = "video"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindAudio    Kind = "audio"
)

var Kinds = []Kind{KindVideo, KindPhoto, KindDocument, KindAudio}

const MetadataFolder = "metadata"

// Folder is the subdirectory of the download root a kind is stored in.
func (k Kind) Folder() string {
	switch k {
	case KindVideo:
		return "videos"
	case KindPhoto:
		return "photos"
	case KindDocument:
		return "documents"
	case KindAudio:
		return "audio"
	}
	return ""
}

// DefaultExt is used when the media carries no usable file name.
func (k Kind) DefaultExt() string {
	switch k {
	case KindVideo:
		return ".mp4"
	case KindPhoto:
		return ".jpg"
	case KindDocument:
		return ".bin"
	case KindAudio:
		return ".mp3"
	}
	return ""
}

// Toggles switches individual kinds on or off.
type Toggles struct {
	Videos    bool
	Photos    bool
	Documents bool
	Audio     bool
}

func AllKinds() Toggles {
	return Toggles{Videos: true, Photos: true, Documents: true, Audio: true}
}

// Classify picks exactly one kind: video, then photo, then audio document,
// then any document. A disabled kind falls through to the next check, so a
// video with videos off is still saved as a document.
func Classify(m *Media, t Toggles) Kind {
	if m == nil {
		return KindNone
	}
	if m.Video && t.Videos {
		return KindVideo
	}
	if m.Photo && t.Photos {
		return KindPhoto
	}
	if !m.IsDocument {
		return KindNone
	}
	if strings.Contains(m.MimeType, "audio") && t.Audio {
		return KindAudio
	}
	if t.Documents {
		return KindDocument
	}
	return KindNone
}

// Extension returns the extension for m stored as kind k.
func Extension(m *Media, k Kind) string {
	if k == KindDocument && m != nil && m.FileName != "" {
		base := filepath.Base(m.FileName)
		// ".bashrc" has no extension, "a." neither
		if ext := filepath.Ext(base); ext != "" && ext != "." && ext != base {
			return ext
		}
	}
	return k.DefaultExt()
}

// FileName is {YYYYMMDD_HHMMSS}_msg{id}{ext}, the date taken in UTC.
func FileName(date time.Time, id int, ext string) string {
	return fmt.Sprintf("%s_msg%d%s", date.UTC().Format("20060102_150405"), id, ext)
}

// Path is where the media of msg lands under root when stored as kind k.
func Path(root string, msg *Message, k Kind) string {
	return filepath.Join(root, k.Folder(), FileName(msg.Date, msg.ID, Extension(msg.Media, k)))
}

// Folders lists every directory a download root needs.
func Folders(root string) []string {
	out := make([]string, 0, len(Kinds)+1)
	for _, k := range Kinds {
		out = append(out, filepath.Join(root, k.Folder()))
	}
	return append(out, filepath.Join(root, MetadataFolder))
}
