// File: service.go
package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ParleyChat/go-api/parley"
	"github.com/ParleyChat/go-api/parley/deepfake"
	"github.com/ParleyChat/go-api/parley/postgres/models"
	"github.com/ParleyChat/go-api/parley/scan"
)

// DeliveryNotifier fans a stored message out to its receiver. Implemented by
// notify.Notifier; nil-able in the service for contexts that store messages
// without delivering them.
type DeliveryNotifier interface {
	MessageSent(ctx context.Context, ev parley.MessageEvent, pushPlayerID string)
}

// DeepfakeDetector classifies an image file. Implemented by deepfake.Runner.
type DeepfakeDetector interface {
	Detect(ctx context.Context, imagePath string) (deepfake.Result, error)
}

// Service is the message-send workflow: block enforcement, scan enrichment,
// persistence, and delivery fan-out, in that order. Scans never block a send;
// a failed scan rides along as a fail-open verdict.
type Service struct {
	repo     *Repository
	enricher *scan.Enricher
	notifier DeliveryNotifier
	detector DeepfakeDetector
}

// NewService wires the send workflow. notifier and detector may be nil to
// disable delivery fan-out and deepfake classification respectively.
func NewService(repo *Repository, enricher *scan.Enricher, notifier DeliveryNotifier, detector DeepfakeDetector) *Service {
	return &Service{repo: repo, enricher: enricher, notifier: notifier, detector: detector}
}

// FileMessage describes an already-uploaded attachment being sent.
type FileMessage struct {
	// FileURL is the stored location served back to clients.
	FileURL string
	// LocalPath is where the uploaded bytes sit on disk, used for hashing,
	// consent-gated upload scans, and deepfake classification.
	LocalPath string
	// MessageType is "image" or "file".
	MessageType string
	// AllowUpload permits transmitting the file bytes to the scanning
	// service when its hash is unknown there.
	AllowUpload bool
}

// SendText stores a text message after scanning the first URL it contains,
// then hands it to the notifier. Returns ErrBlocked when either participant
// has blocked the other.
func (s *Service) SendText(ctx context.Context, senderID, receiverID uint, body string) (*models.Message, error) {
	blocked, err := s.repo.IsBlocked(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	convo, err := s.repo.GetOrCreateConversation(senderID, receiverID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: convo.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		MessageType:    models.MessageTypeText,
		Status:         models.MessageStatusSent,
	}

	var verdict *scan.Verdict
	if urls := scan.ExtractURLs(body); len(urls) > 0 {
		// Only the first URL is scanned; one verdict per message.
		v, err := s.enricher.EnrichURL(ctx, urls[0])
		if err != nil {
			return nil, fmt.Errorf("url enrichment: %w", err)
		}
		verdict = &v
		msg.ContainsURL = true
		msg.URLScan = verdictJSON(v)
	}

	if err := s.repo.CreateMessage(msg); err != nil {
		return nil, err
	}

	s.deliver(ctx, msg, verdict, nil)
	return msg, nil
}

// SendFile stores a file message after hashing and scanning the attachment.
// Image attachments are additionally run through the deepfake classifier
// when one is configured; a classifier failure is recorded on the message
// but never fails the send.
func (s *Service) SendFile(ctx context.Context, senderID, receiverID uint, file FileMessage) (*models.Message, error) {
	blocked, err := s.repo.IsBlocked(senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrBlocked
	}

	convo, err := s.repo.GetOrCreateConversation(senderID, receiverID)
	if err != nil {
		return nil, err
	}

	hash, err := HashFile(file.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("hash attachment: %w", err)
	}

	verdict, err := s.enricher.EnrichFile(ctx, hash, file.LocalPath, file.AllowUpload)
	if err != nil {
		return nil, fmt.Errorf("file enrichment: %w", err)
	}

	msg := &models.Message{
		ConversationID: convo.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		MessageType:    file.MessageType,
		Status:         models.MessageStatusSent,
		FileURL:        file.FileURL,
		FileHash:       hash,
		ContainsFile:   true,
		FileScan:       verdictJSON(verdict),
	}

	if file.MessageType == models.MessageTypeImage && s.detector != nil {
		msg.DeepfakeScan = s.classifyImage(ctx, file.LocalPath)
	}

	if err := s.repo.CreateMessage(msg); err != nil {
		return nil, err
	}

	s.deliver(ctx, msg, nil, &verdict)
	return msg, nil
}

// classifyImage runs the deepfake classifier and renders its outcome as the
// stored scan object. Classifier faults degrade to an error marker.
func (s *Service) classifyImage(ctx context.Context, path string) models.JSONB {
	result, err := s.detector.Detect(ctx, path)
	if err != nil {
		slog.Warn("Deepfake classification failed", "path", path, "error", err)
		return models.JSONB{"error": err.Error()}
	}
	return models.JSONB{
		"isFake":     result.IsFake,
		"confidence": result.Confidence,
	}
}

func (s *Service) deliver(ctx context.Context, msg *models.Message, urlScan, fileScan *scan.Verdict) {
	if s.notifier == nil {
		return
	}

	playerID := ""
	if receiver, err := s.repo.GetUser(msg.ReceiverID); err == nil {
		playerID = receiver.PushPlayerID
	} else {
		slog.Warn("Receiver lookup failed, skipping push registration", "receiver_id", msg.ReceiverID, "error", err)
	}

	s.notifier.MessageSent(ctx, parley.MessageEvent{
		MessageID:    msg.ID,
		SenderID:     msg.SenderID,
		ReceiverID:   msg.ReceiverID,
		MessageType:  msg.MessageType,
		Body:         msg.Body,
		ContainsURL:  msg.ContainsURL,
		URLScan:      urlScan,
		ContainsFile: msg.ContainsFile,
		FileScan:     fileScan,
	}, playerID)
}

// HashFile returns the lowercase hex SHA-256 of a file's contents, streamed
// so large attachments never load fully into memory.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verdictJSON renders a verdict into the JSON column stored on the message
// row. The full report goes in, per-vendor findings included, so clients
// never need a second lookup to show the safety details.
func verdictJSON(v scan.Verdict) models.JSONB {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode verdict for storage", "error", err)
		return nil
	}
	var out models.JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		slog.Error("Failed to encode verdict for storage", "error", err)
		return nil
	}
	return out
}
