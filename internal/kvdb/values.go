package kvdb

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// Typed values are stored as decimal text so other readers of the file
// see plain strings. Booleans are "1" and "0". Objects are CBOR.

var (
	objectEnc cbor.EncMode
	objectDec cbor.DecMode
)

func init() {
	var err error

	// Deterministic encoding: same value, same bytes.
	objectEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("kvdb: CBOR encoder initialization failed: " + err.Error())
	}

	objectDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("kvdb: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeObject returns the stored form of v.
func EncodeObject(v any) ([]byte, error) {
	return objectEnc.Marshal(v)
}

// DecodeObject decodes a stored object into v.
func DecodeObject(data []byte, v any) error {
	return objectDec.Unmarshal(data, v)
}

// PutString stores s under key.
func (c *Connection) PutString(ctx context.Context, key, s string) error {
	return c.Put(ctx, key, []byte(s))
}

// GetString returns the value under key as a string.
func (c *Connection) GetString(ctx context.Context, key string) (string, error) {
	v, err := c.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// PutInt stores n under key.
func (c *Connection) PutInt(ctx context.Context, key string, n int) error {
	return c.PutString(ctx, key, strconv.Itoa(n))
}

// GetInt returns the value under key as an int.
func (c *Connection) GetInt(ctx context.Context, key string) (int, error) {
	n, err := c.getInt(ctx, key, strconv.IntSize)
	return int(n), err
}

// PutInt64 stores n under key.
func (c *Connection) PutInt64(ctx context.Context, key string, n int64) error {
	return c.PutString(ctx, key, strconv.FormatInt(n, 10))
}

// GetInt64 returns the value under key as an int64.
func (c *Connection) GetInt64(ctx context.Context, key string) (int64, error) {
	return c.getInt(ctx, key, 64)
}

// PutInt16 stores n under key.
func (c *Connection) PutInt16(ctx context.Context, key string, n int16) error {
	return c.PutString(ctx, key, strconv.FormatInt(int64(n), 10))
}

// GetInt16 returns the value under key as an int16.
func (c *Connection) GetInt16(ctx context.Context, key string) (int16, error) {
	n, err := c.getInt(ctx, key, 16)
	return int16(n), err
}

func (c *Connection) getInt(ctx context.Context, key string, bits int) (int64, error) {
	s, err := c.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q as int%d: %w", ErrValueType, key, bits, err)
	}
	return n, nil
}

// PutFloat32 stores f under key.
func (c *Connection) PutFloat32(ctx context.Context, key string, f float32) error {
	return c.PutString(ctx, key, strconv.FormatFloat(float64(f), 'g', -1, 32))
}

// GetFloat32 returns the value under key as a float32.
func (c *Connection) GetFloat32(ctx context.Context, key string) (float32, error) {
	f, err := c.getFloat(ctx, key, 32)
	return float32(f), err
}

// PutFloat64 stores f under key.
func (c *Connection) PutFloat64(ctx context.Context, key string, f float64) error {
	return c.PutString(ctx, key, strconv.FormatFloat(f, 'g', -1, 64))
}

// GetFloat64 returns the value under key as a float64.
func (c *Connection) GetFloat64(ctx context.Context, key string) (float64, error) {
	return c.getFloat(ctx, key, 64)
}

func (c *Connection) getFloat(ctx context.Context, key string, bits int) (float64, error) {
	s, err := c.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q as float%d: %w", ErrValueType, key, bits, err)
	}
	return f, nil
}

// PutBool stores b under key as "1" or "0".
func (c *Connection) PutBool(ctx context.Context, key string, b bool) error {
	if b {
		return c.PutString(ctx, key, "1")
	}
	return c.PutString(ctx, key, "0")
}

// GetBool returns the value under key as a bool.
// "1" and "0" are canonical; anything strconv.ParseBool accepts is read too.
func (c *Connection) GetBool(ctx context.Context, key string) (bool, error) {
	s, err := c.GetString(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %q as bool: %w", ErrValueType, key, err)
	}
	return b, nil
}

// PutObject stores v under key in CBOR.
func (c *Connection) PutObject(ctx context.Context, key string, v any) error {
	if v == nil {
		return fmt.Errorf("%w: nil object for %q", ErrInvalidArgument, key)
	}
	data, err := EncodeObject(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %q: %w", ErrInvalidArgument, key, err)
	}
	return c.Put(ctx, key, data)
}

// GetObject decodes the CBOR value under key into v, which must be a
// non-nil pointer.
func (c *Connection) GetObject(ctx context.Context, key string, v any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := DecodeObject(data, v); err != nil {
		return fmt.Errorf("%w: %q as object: %w", ErrValueType, key, err)
	}
	return nil
}
