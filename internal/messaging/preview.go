package messaging

import (
	"fmt"
	"unicode/utf8"

	"github.com/PaulBabatuyi/realtime-messaging/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	ImagePreview  = "[image]"
	SharedPreview = "[shared]"

	maxPreviewRunes = 120
)

// Preview derives the conversation summary line for msg: its text, else a
// placeholder for an image, else a placeholder for shared content.
func Preview(msg *data.Message) string {
	switch {
	case msg.Text != nil && *msg.Text != "":
		return truncate(*msg.Text, maxPreviewRunes)
	case msg.ImageURL != nil && *msg.ImageURL != "":
		return ImagePreview
	}
	return SharedPreview
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func objectID(hex string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(hex)
	if err != nil {
		return bson.ObjectID{}, fmt.Errorf("conversation id %q: %w", hex, data.ErrInvalidID)
	}
	return id, nil
}
