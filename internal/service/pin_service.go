package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"golang.org/x/crypto/blake2b"
)

// collisionFactor bounds generation work at quantity*collisionFactor draws.
const collisionFactor = 10

// MaxPinHintLength caps the display hint. It also fits the hint column.
const MaxPinHintLength = 4

// PinService generates, revokes and verifies exam access PINs.
type PinService struct {
	pins     PinStore
	capacity CapacityGuard
	throttle RedemptionLimiter
	key      []byte
	hintLen  int
	log      zerolog.Logger
	draw     func(alphabet string, n int) (string, error)
	now      func() time.Time
}

// NewPinService creates a new PinService. pepper keys the PIN hash so a
// leaked table cannot be brute-forced offline without it.
func NewPinService(
	pins PinStore,
	capacity CapacityGuard,
	throttle RedemptionLimiter,
	pepper string,
	hintLen int,
	log zerolog.Logger,
) *PinService {
	return &PinService{
		pins:     pins,
		capacity: capacity,
		throttle: throttle,
		key:      pinKey(pepper),
		hintLen:  min(max(hintLen, 0), MaxPinHintLength),
		log:      log.With().Str("component", "pin_service").Logger(),
		draw:     randomString,
		now:      time.Now,
	}
}

// blake2b accepts keys up to 64 bytes; longer peppers are compressed first.
func pinKey(pepper string) []byte {
	if len(pepper) <= blake2b.Size {
		return []byte(pepper)
	}
	sum := blake2b.Sum512([]byte(pepper))
	return sum[:]
}

// NormalizePin trims and upper-cases a PIN as typed by a candidate.
func NormalizePin(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// HashPin returns the keyed hash stored in place of the raw PIN.
func (s *PinService) HashPin(raw string) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// Only possible with an oversized key, which pinKey prevents.
		panic(err)
	}
	h.Write([]byte(NormalizePin(raw)))
	return hex.EncodeToString(h.Sum(nil))
}

// hint returns the trailing characters of raw. It never reveals half or more
// of the random part, whose length is length.
func (s *PinService) hint(raw string, length int) string {
	n := min(s.hintLen, (length-1)/2)
	if n <= 0 || len(raw) < n {
		return ""
	}
	return raw[len(raw)-n:]
}

// GenerateBatch creates quantity unique PINs for the exam. The raw PINs are
// returned once and never stored.
func (s *PinService) GenerateBatch(ctx context.Context, examID uuid.UUID, req model.GeneratePinBatchRequest, createdBy string) (*model.GeneratedBatch, error) {
	if s.capacity != nil {
		if err := s.capacity.AssertAllowed(ctx, examID, req.Quantity); err != nil {
			return nil, err
		}
	}

	charset := req.Charset
	if charset == "" {
		charset = model.PinCharsetNumeric
	}
	prefix := NormalizePin(req.Prefix)
	now := s.now().UTC()

	batch := model.PinBatch{
		ID:               uuid.New(),
		ExamID:           examID,
		Prefix:           prefix,
		Length:           req.Length,
		Charset:          charset,
		Quantity:         req.Quantity,
		MaxUses:          req.MaxUses,
		ExpiresAt:        req.ExpiresAt,
		AllowListEnabled: req.AllowListEnabled,
		CreatedBy:        createdBy,
		CreatedAt:        now,
	}

	raws := make(map[string]string, req.Quantity) // hash → raw
	budget := req.Quantity * collisionFactor
	draws := 0

	for len(raws) < req.Quantity && draws < budget {
		// Draw a round of candidates, then drop the ones already used by the exam.
		round := make(map[string]string, req.Quantity-len(raws))
		for len(raws)+len(round) < req.Quantity && draws < budget {
			draws++
			body, err := s.draw(charset.Alphabet(), req.Length)
			if err != nil {
				return nil, fmt.Errorf("draw pin: %w", err)
			}
			raw := prefix + body
			hash := s.HashPin(raw)
			if _, dup := raws[hash]; dup {
				continue
			}
			if _, dup := round[hash]; dup {
				continue
			}
			round[hash] = raw
		}

		hashes := make([]string, 0, len(round))
		for h := range round {
			hashes = append(hashes, h)
		}
		existing, err := s.pins.ExistingHashes(ctx, examID, hashes)
		if err != nil {
			return nil, fmt.Errorf("check existing pins: %w", err)
		}
		for h, raw := range round {
			if !existing[h] {
				raws[h] = raw
			}
		}
	}

	if len(raws) < req.Quantity {
		s.log.Warn().
			Str("exam_id", examID.String()).
			Int("requested", req.Quantity).
			Int("unique", len(raws)).
			Int("draws", draws).
			Msg("PIN generation exhausted its draw budget")
		return nil, ErrGenerationFailed
	}

	pins := make([]model.Pin, 0, len(raws))
	out := make([]model.GeneratedPin, 0, len(raws))
	for hash, raw := range raws {
		p := model.Pin{
			ID:               uuid.New(),
			ExamID:           examID,
			BatchID:          batch.ID,
			PinHash:          hash,
			Hint:             s.hint(raw, req.Length),
			Status:           model.PinStatusActive,
			MaxUses:          req.MaxUses,
			ExpiresAt:        req.ExpiresAt,
			AllowListEnabled: req.AllowListEnabled,
			CreatedAt:        now,
		}
		pins = append(pins, p)
		out = append(out, model.GeneratedPin{ID: p.ID, Pin: raw, Hint: p.Hint})
	}

	if err := s.pins.CreateBatch(ctx, &batch, pins); err != nil {
		return nil, fmt.Errorf("create pin batch: %w", err)
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("batch_id", batch.ID.String()).
		Int("quantity", len(pins)).
		Msg("PIN batch generated")

	return &model.GeneratedBatch{Batch: batch, Pins: out}, nil
}

// Verify resolves a raw PIN to a redeemable Pin without spending a use.
// Failed guesses are counted against caller by the redemption throttle.
func (s *PinService) Verify(ctx context.Context, examID uuid.UUID, rawPin, identifier, caller string) (*model.Pin, error) {
	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, examID, caller)
		if err != nil {
			return nil, fmt.Errorf("check redemption throttle: %w", err)
		}
		if !allowed {
			return nil, ErrRateLimited
		}
	}

	pin, err := s.lookup(ctx, examID, rawPin, identifier)
	if errors.Is(err, ErrInvalidPin) {
		s.recordFailure(ctx, examID, caller)
	}
	return pin, err
}

func (s *PinService) lookup(ctx context.Context, examID uuid.UUID, rawPin, identifier string) (*model.Pin, error) {
	if NormalizePin(rawPin) == "" {
		return nil, ErrInvalidPin
	}

	pin, err := s.pins.FindByHash(ctx, examID, s.HashPin(rawPin))
	if errors.Is(err, model.ErrNotFound) {
		return nil, ErrInvalidPin
	}
	if err != nil {
		return nil, fmt.Errorf("find pin: %w", err)
	}

	if !pin.Redeemable(s.now()) {
		return nil, ErrInvalidPin
	}

	if pin.AllowListEnabled {
		identifier = model.NormalizeIdentifier(identifier)
		if identifier == "" {
			return nil, ErrInvalidPin
		}
		ok, err := s.pins.IsAllowListed(ctx, pin.ID, identifier)
		if err != nil {
			return nil, fmt.Errorf("check allow-list: %w", err)
		}
		if !ok {
			return nil, ErrInvalidPin
		}
	}

	return pin, nil
}

func (s *PinService) recordFailure(ctx context.Context, examID uuid.UUID, caller string) {
	if s.throttle == nil {
		return
	}
	if err := s.throttle.RecordFailure(ctx, examID, caller); err != nil {
		s.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to record PIN failure")
	}
}

// Spend atomically consumes one use. Losing a race for the last use yields
// ErrInvalidPin, the same as an exhausted PIN.
func (s *PinService) Spend(ctx context.Context, pin *model.Pin) (*model.Pin, error) {
	uses, ok, err := s.pins.IncrementUse(ctx, pin.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("increment pin use: %w", err)
	}
	if !ok {
		return nil, ErrInvalidPin
	}
	spent := *pin
	spent.UsesCount = uses
	return &spent, nil
}

// Release returns a spent use, for a start that failed after Spend.
func (s *PinService) Release(ctx context.Context, pin *model.Pin) error {
	if err := s.pins.ReleaseUse(ctx, pin.ID); err != nil {
		return fmt.Errorf("release pin use: %w", err)
	}
	return nil
}

// RevokeBatch revokes every PIN of the batch.
func (s *PinService) RevokeBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	n, err := s.pins.RevokeBatch(ctx, batchID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, ErrPinBatchNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("revoke pin batch: %w", err)
	}
	s.log.Info().Str("batch_id", batchID.String()).Int64("revoked", n).Msg("PIN batch revoked")
	return n, nil
}

// AddAllowList adds candidate identifiers to a PIN's allow-list.
func (s *PinService) AddAllowList(ctx context.Context, pinID uuid.UUID, identifiers []string) (int64, error) {
	if _, err := s.pins.GetPin(ctx, pinID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return 0, ErrPinNotFound
		}
		return 0, fmt.Errorf("get pin: %w", err)
	}

	clean := make([]string, 0, len(identifiers))
	seen := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		id = model.NormalizeIdentifier(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}

	n, err := s.pins.AddAllowList(ctx, pinID, clean)
	if err != nil {
		return 0, fmt.Errorf("add allow-list: %w", err)
	}
	return n, nil
}

// randomString draws n characters uniformly from alphabet using crypto/rand.
func randomString(alphabet string, n int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for range n {
		i, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[i.Int64()])
	}
	return b.String(), nil
}
