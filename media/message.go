// Package media turns Telegram messages into download jobs: which kind of
// file a message carries, where it goes on disk and what sidecar describes it.
package media

import (
	"time"

	"github.com/gotd/td/tg"
)

// Message is the part of a channel post the downloader cares about.
type Message struct {
	ID       int
	Date     time.Time
	Text     string
	Views    int
	Forwards int
	SenderID *int64
	HasMedia bool
	Media    *Media // nil when the media cannot be downloaded
}

// Media describes a downloadable attachment.
type Media struct {
	Video      bool
	Photo      bool
	IsDocument bool
	MimeType   string
	FileName   string // name supplied by the sender, documents only
	Size       int64
	Location   tg.InputFileLocationClass
}

// FromTG converts a raw history message. Service and empty messages yield false.
func FromTG(m tg.MessageClass) (*Message, bool) {
	msg, ok := m.(*tg.Message)
	if !ok {
		return nil, false
	}
	out := &Message{
		ID:       msg.ID,
		Date:     time.Unix(int64(msg.Date), 0).UTC(),
		Text:     msg.Message,
		Views:    msg.Views,
		Forwards: msg.Forwards,
		SenderID: senderID(msg),
		HasMedia: msg.Media != nil,
	}
	switch md := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		if doc, ok := md.Document.(*tg.Document); ok {
			out.Media = fromDocument(doc, md.Video && !md.Round)
		}
	case *tg.MessageMediaPhoto:
		if photo, ok := md.Photo.(*tg.Photo); ok {
			out.Media = fromPhoto(photo)
		}
	}
	return out, true
}

// markedChannelBase turns a channel id into the -100 prefixed form Telegram
// clients show, -1001234567890 for channel 1234567890.
const markedChannelBase = 1000000000000

// senderID is the marked peer id of the author: users as is, basic chats
// negated, channels -100 prefixed. Channel posts without an author are
// attributed to the channel.
func senderID(msg *tg.Message) *int64 {
	peer := msg.FromID
	if peer == nil && msg.Post {
		peer = msg.PeerID
	}
	var id int64
	switch p := peer.(type) {
	case *tg.PeerUser:
		id = p.UserID
	case *tg.PeerChat:
		id = -p.ChatID
	case *tg.PeerChannel:
		id = -(markedChannelBase + p.ChannelID)
	default:
		return nil
	}
	return &id
}

func fromDocument(doc *tg.Document, videoFlag bool) *Media {
	m := &Media{
		Video:      videoFlag,
		IsDocument: true,
		MimeType:   doc.MimeType,
		Size:       doc.Size,
		Location:   doc.AsInputDocumentFileLocation(),
	}
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeVideo:
			// round messages are kept as documents
			if !a.RoundMessage {
				m.Video = true
			}
		case *tg.DocumentAttributeFilename:
			if m.FileName == "" {
				m.FileName = a.FileName
			}
		}
	}
	return m
}

func fromPhoto(photo *tg.Photo) *Media {
	var best string
	var bestArea, bestSize int
	for _, size := range photo.Sizes {
		switch s := size.(type) {
		case *tg.PhotoSize:
			if area := s.W * s.H; area > bestArea {
				best, bestArea, bestSize = s.Type, area, s.Size
			}
		case *tg.PhotoSizeProgressive:
			if area := s.W * s.H; area > bestArea && len(s.Sizes) > 0 {
				best, bestArea, bestSize = s.Type, area, s.Sizes[len(s.Sizes)-1]
			}
		}
	}
	if best == "" {
		return nil
	}
	return &Media{
		Photo: true,
		Size:  int64(bestSize),
		Location: &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     best,
		},
	}
}
