package services

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	fig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/config"
	"github.com/techagentng/skillsync/db"
	errs "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
)

const DefaultMaxAttachmentSize = 10 * 1024 * 1024 // 10 MB

const (
	thumbnailWidth  = 320
	thumbnailHeight = 320
)

var supportedMimeTypes = map[string]bool{
	"image/png":          true,
	"image/jpeg":         true,
	"image/gif":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"text/plain":         true,
	"application/zip":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"audio/mpeg": true,
	"audio/wav":  true,
	"video/mp4":  true,
}

// SupportedMimeType reports whether files of the given type may be attached to messages.
func SupportedMimeType(mimeType string) bool {
	return supportedMimeTypes[baseMimeType(mimeType)]
}

func IsImageMimeType(mimeType string) bool {
	return strings.HasPrefix(baseMimeType(mimeType), "image/")
}

func baseMimeType(mimeType string) string {
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// ObjectStorage stores attachment bytes and returns their public url.
type ObjectStorage interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

type s3Storage struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewS3Storage builds an S3 backed ObjectStorage from the configured static credentials.
func NewS3Storage(ctx context.Context, conf *config.Config) (ObjectStorage, error) {
	cfg, err := fig.LoadDefaultConfig(ctx,
		fig.WithRegion(conf.AWSRegion),
		fig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load AWS config")
	}
	return &s3Storage{
		client:  s3.NewFromConfig(cfg),
		bucket:  conf.AWSBucket,
		baseURL: conf.AttachmentBaseURL(),
	}, nil
}

func (s *s3Storage) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ACL:         "public-read",
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to upload file to S3")
	}
	return s.baseURL + key, nil
}

type MediaService interface {
	UploadAttachment(ctx context.Context, conversationID, uploaderID string, fileHeader *multipart.FileHeader) (*models.FileAttachment, models.MessageKind, error)
}

type mediaService struct {
	Config   *config.Config
	chatRepo db.ChatRepository
	storage  ObjectStorage
}

func NewMediaService(chatRepo db.ChatRepository, storage ObjectStorage, conf *config.Config) MediaService {
	return &mediaService{
		Config:   conf,
		chatRepo: chatRepo,
		storage:  storage,
	}
}

const attachmentPrefix = "conversations/"

func attachmentFolder(conversationID string) string {
	return attachmentPrefix + conversationID
}

func generateUniqueFilename(extension string) string {
	return fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), uuid.New(), extension)
}

// UploadAttachment stores a file for a conversation the uploader takes part in. The returned
// attachment is what a later send_message carries; nothing is appended to the conversation here.
func (m *mediaService) UploadAttachment(ctx context.Context, conversationID, uploaderID string, fileHeader *multipart.FileHeader) (*models.FileAttachment, models.MessageKind, error) {
	if _, err := m.chatRepo.GetConversation(ctx, conversationID, uploaderID); err != nil {
		return nil, "", err
	}

	maxSize := int64(DefaultMaxAttachmentSize)
	if m.Config != nil && m.Config.MaxAttachmentSize > 0 {
		maxSize = m.Config.MaxAttachmentSize
	}
	if fileHeader.Size <= 0 || fileHeader.Size > maxSize {
		return nil, "", errs.NewValidationError("file size exceeds the maximum allowed size")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to read file")
	}

	detected := mimetype.Detect(data)
	mimeType := baseMimeType(detected.String())
	if !SupportedMimeType(mimeType) {
		return nil, "", errs.NewValidationError("unsupported file type " + mimeType)
	}

	extension := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if extension == "" {
		extension = detected.Extension()
	}
	folder := attachmentFolder(conversationID)
	key := folder + "/" + generateUniqueFilename(extension)

	url, err := m.storage.Put(ctx, key, mimeType, bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}

	attachment := &models.FileAttachment{
		URL:      url,
		Name:     filepath.Base(fileHeader.Filename),
		Size:     int64(len(data)),
		MimeType: mimeType,
	}
	kind := models.MessageKindFile
	if IsImageMimeType(mimeType) {
		kind = models.MessageKindImage
		thumbnailURL, err := m.uploadThumbnail(ctx, folder, data)
		if err != nil {
			// the original is stored, the thumbnail is optional
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to generate attachment thumbnail")
		} else {
			attachment.ThumbnailURL = thumbnailURL
		}
	}
	return attachment, kind, nil
}

func (m *mediaService) uploadThumbnail(ctx context.Context, folder string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", errors.Wrap(err, "failed to decode image")
	}
	thumbnail := imaging.Fit(img, thumbnailWidth, thumbnailHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumbnail, &jpeg.Options{Quality: 80}); err != nil {
		return "", errors.Wrap(err, "failed to encode thumbnail")
	}
	return m.storage.Put(ctx, folder+"/thumb_"+generateUniqueFilename(".jpg"), "image/jpeg", &buf)
}
