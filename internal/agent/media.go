package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/aeon/internal/channels"
	"github.com/nextlevelbuilder/aeon/internal/providers"
)

// Transcriber converts audio bytes to text. Implementations wrap an
// external speech-to-text collaborator; a nil Transcriber means audio
// attachments are dropped with a warning.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename string) (string, error)
}

// maxImageEdge bounds the resized dimension fed to vision-capable models,
// keeping base64 payloads reasonable regardless of the source resolution.
const maxImageEdge = 1568

// loadImages converts Image attachments within limit into provider
// ImageContent, resizing anything larger than maxImageEdge on its long
// edge. Oversized or undecodable attachments are skipped with a warning.
func loadImages(attachments []channels.Attachment, maxBytes int64) []providers.ImageContent {
	var images []providers.ImageContent
	for _, a := range attachments {
		if a.Kind != channels.Image {
			continue
		}
		if int64(len(a.Data)) > maxBytes {
			slog.Warn("vision: image attachment exceeds size limit, skipping", "filename", a.Filename, "size", len(a.Data))
			continue
		}

		mime := inferImageMime(a.Filename)
		data := a.Data
		if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
			bounds := img.Bounds()
			if bounds.Dx() > maxImageEdge || bounds.Dy() > maxImageEdge {
				resized := imaging.Fit(img, maxImageEdge, maxImageEdge, imaging.Lanczos)
				var buf bytes.Buffer
				if err := imaging.Encode(&buf, resized, imaging.PNG); err == nil {
					data = buf.Bytes()
					mime = "image/png"
				}
			}
		}

		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

// inferImageMime returns the MIME type for a filename's extension,
// defaulting to image/png for anything unrecognized.
func inferImageMime(filename string) string {
	ext := ""
	for i := len(filename) - 1; i >= 0 && filename[i] != '.'; i-- {
		ext = string(filename[i]) + ext
	}
	switch ext {
	case "jpg", "jpeg", "JPG", "JPEG":
		return "image/jpeg"
	case "gif", "GIF":
		return "image/gif"
	case "webp", "WEBP":
		return "image/webp"
	default:
		return "image/png"
	}
}

// transcribeAudio runs every Audio attachment within limit through
// transcriber and returns the combined text under a "[transcribed audio]"
// header, matching the attachment-resolution contract. Audio with no
// transcriber configured, or exceeding the limit, is dropped with a
// warning.
func transcribeAudio(ctx context.Context, transcriber Transcriber, attachments []channels.Attachment, maxBytes int64) string {
	if transcriber == nil {
		for _, a := range attachments {
			if a.Kind == channels.Audio {
				slog.Warn("audio: no transcriber configured, dropping attachment", "filename", a.Filename)
			}
		}
		return ""
	}

	var out bytes.Buffer
	for _, a := range attachments {
		if a.Kind != channels.Audio {
			continue
		}
		if int64(len(a.Data)) > maxBytes {
			slog.Warn("audio: attachment exceeds size limit, skipping", "filename", a.Filename, "size", len(a.Data))
			continue
		}
		text, err := transcriber.Transcribe(ctx, a.Data, a.Filename)
		if err != nil {
			slog.Warn("audio: transcription failed, skipping", "filename", a.Filename, "error", err)
			continue
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(text)
	}
	if out.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("[transcribed audio]\n%s", out.String())
}
