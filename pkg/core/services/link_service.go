package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wadjakorntonsri/go-scanlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-scanlink/pkg/ports"
)

const (
	DefaultListLimit = 50
	maxNameLength    = 50
	minCodeLength    = 3
	generatedCodeLen = 6
	maxCodeAttempts  = 5
)

var (
	shortCodePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	colorPattern     = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

// CacheInvalidator is told when an owner's links change.
type CacheInvalidator interface {
	Invalidate(ownerID string)
}

type LinkService struct {
	gateway     ports.LinkGateway
	invalidator CacheInvalidator
	now         func() time.Time
	log         logrus.FieldLogger
}

func NewLinkService(gateway ports.LinkGateway, invalidator CacheInvalidator, logger logrus.FieldLogger) *LinkService {
	return &LinkService{
		gateway:     gateway,
		invalidator: invalidator,
		now:         time.Now,
		log:         logger.WithField("component", "links"),
	}
}

// CreateLink validates the request, generating a short code when none is
// given, and stores an active link. Rejections are *domain.ValidationError.
func (s *LinkService) CreateLink(ctx context.Context, ownerID string, req ports.CreateLinkRequest) (*domain.Link, error) {
	link, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	link.OwnerID = ownerID

	exists, err := s.gateway.LinkNameExists(ctx, ownerID, link.Name)
	if err != nil {
		return nil, fmt.Errorf("check link name: %w", err)
	}
	if exists {
		return nil, &domain.ValidationError{Field: "name", Message: "you already have a QR code with this name"}
	}

	if link.ShortCode == "" {
		link.ShortCode, err = s.freeShortCode(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		existing, err := s.gateway.GetLinkBySlug(ctx, link.ShortCode)
		if err != nil {
			return nil, fmt.Errorf("check short code: %w", err)
		}
		if existing != nil {
			return nil, &domain.ValidationError{Field: "short_code", Message: "this short code is already taken"}
		}
	}

	if err := s.gateway.InsertLink(ctx, link); err != nil {
		if errors.Is(err, domain.ErrShortCodeTaken) {
			return nil, &domain.ValidationError{Field: "short_code", Message: "this short code is already taken"}
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"owner":      ownerID,
		"link_id":    link.ID,
		"short_code": link.ShortCode,
	}).Info("Link created")
	s.invalidate(ownerID)
	return link, nil
}

// ListLinks returns the owner's newest links with their all-time scan counts.
func (s *LinkService) ListLinks(ctx context.Context, ownerID string, limit int) ([]domain.Link, error) {
	if limit < 1 {
		limit = DefaultListLimit
	}

	links, err := s.gateway.GetLinksByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return []domain.Link{}, nil
	}

	ids := make([]int64, len(links))
	for i, l := range links {
		ids[i] = l.ID
	}
	counts, err := s.gateway.GetScanCountsByLinkIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range links {
		links[i].ScanCount = counts[links[i].ID]
	}
	return links, nil
}

func (s *LinkService) SetActive(ctx context.Context, ownerID string, id int64, active bool) error {
	if err := s.gateway.SetLinkActive(ctx, ownerID, id, active); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"owner": ownerID, "link_id": id, "active": active}).Info("Link toggled")
	s.invalidate(ownerID)
	return nil
}

// DeleteLink removes the link and its scans.
func (s *LinkService) DeleteLink(ctx context.Context, ownerID string, id int64) error {
	if err := s.gateway.DeleteLink(ctx, ownerID, id); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"owner": ownerID, "link_id": id}).Info("Link deleted")
	s.invalidate(ownerID)
	return nil
}

func (s *LinkService) validate(req ports.CreateLinkRequest) (*domain.Link, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.ValidationError{Field: "name", Message: "name is required"}
	}
	if len([]rune(name)) > maxNameLength {
		return nil, &domain.ValidationError{Field: "name", Message: fmt.Sprintf("name must be at most %d characters", maxNameLength)}
	}

	target, err := NormalizeTargetURL(req.TargetURL)
	if err != nil {
		return nil, err
	}

	code := strings.TrimSpace(req.ShortCode)
	if code != "" {
		if len(code) < minCodeLength {
			return nil, &domain.ValidationError{Field: "short_code", Message: fmt.Sprintf("short code must be at least %d characters", minCodeLength)}
		}
		if !shortCodePattern.MatchString(code) {
			return nil, &domain.ValidationError{Field: "short_code", Message: "short code may only contain letters, numbers, hyphens and underscores"}
		}
	}

	now := s.now()
	if req.ExpiresAt != nil && startOfDay(req.ExpiresAt.In(now.Location())).Before(startOfDay(now)) {
		return nil, &domain.ValidationError{Field: "expires_at", Message: "expiry date cannot be in the past"}
	}

	color, err := colorOrDefault("color", req.Color, domain.DefaultColor)
	if err != nil {
		return nil, err
	}
	background, err := colorOrDefault("background_color", req.BackgroundColor, domain.DefaultBackgroundColor)
	if err != nil {
		return nil, err
	}

	return &domain.Link{
		ShortCode:       code,
		TargetURL:       target,
		Name:            name,
		Active:          true,
		ExpiresAt:       req.ExpiresAt,
		Color:           color,
		BackgroundColor: background,
		CreatedAt:       now.UTC(),
	}, nil
}

func (s *LinkService) freeShortCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := generateShortCode(generatedCodeLen)
		if err != nil {
			return "", err
		}
		existing, err := s.gateway.GetLinkBySlug(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check short code: %w", err)
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free short code after %d attempts", maxCodeAttempts)
}

func (s *LinkService) invalidate(ownerID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ownerID)
	}
}

// NormalizeTargetURL prefixes https:// when no scheme is given and rejects
// anything that is not an http or https URL with a host.
func NormalizeTargetURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &domain.ValidationError{Field: "target_url", Message: "URL is required"}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &domain.ValidationError{Field: "target_url", Message: "please enter a valid URL"}
	}
	return u.String(), nil
}

func colorOrDefault(field, value, fallback string) (string, error) {
	if value == "" {
		return fallback, nil
	}
	if !colorPattern.MatchString(value) {
		return "", &domain.ValidationError{Field: field, Message: "color must be a hex value like #7828f8"}
	}
	return strings.ToLower(value), nil
}

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateShortCode(length int) (string, error) {
	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[num.Int64()]
	}
	return string(b), nil
}

var _ ports.LinkService = (*LinkService)(nil)
