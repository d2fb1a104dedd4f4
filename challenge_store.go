package authflow

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultChallengePrefix  = "afc"
	challengeRecordVersion1 = 1
)

var (
	errChallengeNotFound = errors.New("challenge record not found")
	errChallengeExpired  = errors.New("challenge record expired")
	errChallengeBackend  = errors.New("challenge record backend unavailable")
)

// challengeRecord holds one pending multi-factor challenge. PendingToken is
// the temporary pre-MFA token; it lives only here until confirmation and is
// never written to the TokenStore.
type challengeRecord struct {
	Email        string
	Provider     string
	PendingToken string
	Methods      []string
	ExpiresAt    int64
	Attempts     uint16
}

type challengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newChallengeStore(redisClient redis.UniversalClient, prefix string) *challengeStore {
	if prefix == "" {
		prefix = defaultChallengePrefix
	}
	return &challengeStore{redis: redisClient, prefix: prefix}
}

func (s *challengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *challengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *challengeRecord,
	ttl time.Duration,
) error {
	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return nil
}

func (s *challengeStore) Get(ctx context.Context, challengeID string) (*challengeRecord, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}

	record, err := decodeChallengeRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, errChallengeExpired
	}
	return record, nil
}

func (s *challengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the record's attempt counter under an optimistic
// transaction. When the counter reaches maxAttempts the record is deleted
// and exceeded is true.
func (s *challengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxTxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxTxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallengeRecord(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errChallengeExpired
			}

			updated, err := encodeChallengeRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, errChallengeNotFound
			}
			if errors.Is(err, errChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", errChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, errChallengeNotFound
}

func mapChallengeStoreError(err error) error {
	switch {
	case errors.Is(err, errChallengeNotFound):
		return ErrChallengeInvalid
	case errors.Is(err, errChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, errChallengeBackend):
		return ErrChallengeUnavailable
	default:
		return ErrChallengeUnavailable
	}
}

func encodeChallengeRecord(record *challengeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if err := writeLenString(&buf, record.Email); err != nil {
		return nil, err
	}
	if err := writeLenString(&buf, record.Provider); err != nil {
		return nil, err
	}
	if err := writeLenString(&buf, record.PendingToken); err != nil {
		return nil, err
	}

	if len(record.Methods) > 255 {
		return nil, errors.New("challenge method count exceeded")
	}
	buf.WriteByte(byte(len(record.Methods)))
	for _, method := range record.Methods {
		if err := writeLenString(&buf, method); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*challengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &challengeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	if record.Email, err = readLenString(reader); err != nil {
		return nil, err
	}
	if record.Provider, err = readLenString(reader); err != nil {
		return nil, err
	}
	if record.PendingToken, err = readLenString(reader); err != nil {
		return nil, err
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		method, err := readLenString(reader)
		if err != nil {
			return nil, err
		}
		record.Methods = append(record.Methods, method)
	}

	return record, nil
}

func writeLenString(buf *bytes.Buffer, value string) error {
	if len(value) > 65535 {
		return errors.New("challenge field length exceeded")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(value))); err != nil {
		return err
	}
	buf.WriteString(value)
	return nil
}

func readLenString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}
	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
