package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/skillsync/config"
	"github.com/techagentng/skillsync/db"
	"github.com/techagentng/skillsync/db/dbtest"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
)

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memoryStorage) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	if _, err := io.ReadAll(body); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[key] = contentType
	return "https://cdn.test/" + key, nil
}

func (m *memoryStorage) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(&body, writer.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["file"][0]
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for x := 0; x < 640; x++ {
		img.Set(x, x%480, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestMediaService(t *testing.T, conf *config.Config) (MediaService, *memoryStorage, *models.Conversation) {
	repo := db.NewChatRepo(dbtest.New(t))
	conversation, err := repo.FindOrCreateConversation(context.Background(), "u1", "u2")
	require.NoError(t, err)
	storage := &memoryStorage{}
	return NewMediaService(repo, storage, conf), storage, conversation
}

func TestUploadImageAttachment(t *testing.T) {
	media, storage, conversation := newTestMediaService(t, &config.Config{})

	attachment, kind, err := media.UploadAttachment(context.Background(), conversation.ID, "u1", fileHeader(t, "photo.png", pngBytes(t)))
	require.NoError(t, err)
	assert.Equal(t, models.MessageKindImage, kind)
	assert.Equal(t, "image/png", attachment.MimeType)
	assert.Equal(t, "photo.png", attachment.Name)
	assert.True(t, strings.HasPrefix(attachment.URL, "https://cdn.test/conversations/"+conversation.ID+"/"))
	assert.True(t, strings.HasSuffix(attachment.URL, ".png"))
	assert.Contains(t, attachment.ThumbnailURL, "/thumb_")
	assert.Len(t, storage.keys(), 2)

	// the result is a valid draft for an image message
	_, err = ValidateDraft(models.MessageDraft{Kind: kind, File: attachment}, DefaultMaxAttachmentSize)
	assert.NoError(t, err)
}

func TestUploadTextAttachment(t *testing.T) {
	media, storage, conversation := newTestMediaService(t, &config.Config{})

	attachment, kind, err := media.UploadAttachment(context.Background(), conversation.ID, "u2", fileHeader(t, "notes.txt", []byte("meeting notes\nbring the slides\n")))
	require.NoError(t, err)
	assert.Equal(t, models.MessageKindFile, kind)
	assert.Equal(t, "text/plain", attachment.MimeType)
	assert.Empty(t, attachment.ThumbnailURL)
	assert.Len(t, storage.keys(), 1)
}

func TestUploadAttachmentRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported content", func(t *testing.T) {
		media, storage, conversation := newTestMediaService(t, &config.Config{})
		elf := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 64)...)
		_, _, err := media.UploadAttachment(ctx, conversation.ID, "u1", fileHeader(t, "run.png", elf))
		assert.ErrorIs(t, err, errs.ErrValidation)
		assert.Empty(t, storage.keys())
	})

	t.Run("too large", func(t *testing.T) {
		media, storage, conversation := newTestMediaService(t, &config.Config{MaxAttachmentSize: 16})
		_, _, err := media.UploadAttachment(ctx, conversation.ID, "u1", fileHeader(t, "notes.txt", []byte(strings.Repeat("x", 17))))
		assert.ErrorIs(t, err, errs.ErrValidation)
		assert.Empty(t, storage.keys())
	})

	t.Run("not a participant", func(t *testing.T) {
		media, storage, conversation := newTestMediaService(t, &config.Config{})
		_, _, err := media.UploadAttachment(ctx, conversation.ID, "u3", fileHeader(t, "notes.txt", []byte("hello")))
		assert.ErrorIs(t, err, errs.ErrAccessDenied)
		assert.Empty(t, storage.keys())
	})
}

func TestSupportedMimeType(t *testing.T) {
	assert.True(t, SupportedMimeType("text/plain; charset=utf-8"))
	assert.True(t, SupportedMimeType("IMAGE/PNG"))
	assert.False(t, SupportedMimeType("application/octet-stream"))
	assert.True(t, IsImageMimeType("image/webp"))
	assert.False(t, IsImageMimeType("application/pdf"))
}
