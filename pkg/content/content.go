// Package content implements the wire codec for chat message bodies.
//
// The backend stores every message body as a single string. Rich payloads are
// tagged unions encoded as pipe-delimited fields:
//
//	POST_SHARE|<postId>|<imageUrl>|<caption>
//	PHOTO_SHARE|<imageUrl>
//	VOICE_MESSAGE|<audioUrl>
//
// Anything else is plain text. Decoding is total: a string that does not
// match a known tag exactly decodes as plain text, never as an error. The
// format has no escaping, so Encode rejects embedded pipes in field values
// rather than emitting a payload the decoder would mis-split.
package content

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
	KindVoice Kind = "voice"
	KindPost  Kind = "post"
)

const (
	tagPost  = "POST_SHARE"
	tagPhoto = "PHOTO_SHARE"
	tagVoice = "VOICE_MESSAGE"
	sep      = "|"
)

// DeletedPlaceholder replaces the body of a tombstoned message.
const DeletedPlaceholder = "This message was deleted"

// Content is the decoded form of a message body. Kind selects which fields
// are meaningful.
type Content struct {
	Kind Kind

	Text     string // KindText
	PostID   string // KindPost
	ImageURL string // KindPost, KindPhoto
	AudioURL string // KindVoice
	Caption  string // KindPost
}

func Text(s string) Content {
	return Content{Kind: KindText, Text: s}
}

func Photo(imageURL string) Content {
	return Content{Kind: KindPhoto, ImageURL: imageURL}
}

func Voice(audioURL string) Content {
	return Content{Kind: KindVoice, AudioURL: audioURL}
}

func PostShare(postID, imageURL, caption string) Content {
	return Content{Kind: KindPost, PostID: postID, ImageURL: imageURL, Caption: caption}
}

// Encode renders the wire string for c. Field values must not contain the
// pipe separator; the format has no escape mechanism and a smuggled pipe
// would decode as a different payload. The id and URL fields must be
// non-empty, since the decoder treats a tag with a missing field as plain
// text.
func (c Content) Encode() (string, error) {
	switch c.Kind {
	case KindText:
		return c.Text, nil
	case KindPhoto:
		if err := checkFields(map[string]string{"imageUrl": c.ImageURL}); err != nil {
			return "", err
		}
		return tagPhoto + sep + c.ImageURL, nil
	case KindVoice:
		if err := checkFields(map[string]string{"audioUrl": c.AudioURL}); err != nil {
			return "", err
		}
		return tagVoice + sep + c.AudioURL, nil
	case KindPost:
		if err := checkFields(map[string]string{
			"postId":   c.PostID,
			"imageUrl": c.ImageURL,
		}); err != nil {
			return "", err
		}
		// The caption may be empty but still must not smuggle a separator.
		if strings.Contains(c.Caption, sep) {
			return "", fmt.Errorf("content field caption contains reserved separator %q", sep)
		}
		return tagPost + sep + c.PostID + sep + c.ImageURL + sep + c.Caption, nil
	default:
		return "", fmt.Errorf("unknown content kind %q", c.Kind)
	}
}

// Decode parses a wire string. It never fails: unrecognized tags and
// malformed field counts fall back to plain text carrying the original
// string.
func Decode(raw string) Content {
	switch {
	case strings.HasPrefix(raw, tagPost+sep):
		parts := strings.Split(raw, sep)
		if len(parts) != 4 || parts[1] == "" || parts[2] == "" {
			return Text(raw)
		}
		return PostShare(parts[1], parts[2], parts[3])
	case strings.HasPrefix(raw, tagPhoto+sep):
		parts := strings.Split(raw, sep)
		if len(parts) != 2 || parts[1] == "" {
			return Text(raw)
		}
		return Photo(parts[1])
	case strings.HasPrefix(raw, tagVoice+sep):
		parts := strings.Split(raw, sep)
		if len(parts) != 2 || parts[1] == "" {
			return Text(raw)
		}
		return Voice(parts[1])
	default:
		return Text(raw)
	}
}

func checkFields(fields map[string]string) error {
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("content field %s must not be empty", name)
		}
		if strings.Contains(v, sep) {
			return fmt.Errorf("content field %s contains reserved separator %q", name, sep)
		}
	}
	return nil
}
