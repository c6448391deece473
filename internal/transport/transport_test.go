package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"instrument-logger/internal/model"
)

type fakeBackend struct {
	openErr  error
	readErr  error
	writeErr error
	payload  []byte
	opened   bool
	closed   bool
	reads    []ReadRequest
	writes   []WriteRequest
}

func (f *fakeBackend) Open(ctx context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func (f *fakeBackend) Read(ctx context.Context, req ReadRequest) ([]byte, error) {
	f.reads = append(f.reads, req)
	return f.payload, f.readErr
}

func (f *fakeBackend) Write(ctx context.Context, req WriteRequest) error {
	f.writes = append(f.writes, req)
	return f.writeErr
}

func (f *fakeBackend) Endpoint() string { return "fake://1" }

func TestSelectKeyword(t *testing.T) {
	cases := map[string]UnitKeyword{
		"3.11":   KeywordDeviceID,
		"3.11.0": KeywordDeviceID,
		"3.12.1": KeywordDeviceID,
		"4.0":    KeywordDeviceID,
		"3.10.9": KeywordSlave,
		"3.0":    KeywordSlave,
		"3.6.9":  KeywordSlave,
		"2.5.3":  KeywordUnit,
		"1":      KeywordUnit,
	}

	for raw, want := range cases {
		v, err := ParseVersion(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, SelectKeyword(v), raw)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("v3.11.2")
	require.NoError(t, err)
	assert.Equal(t, Version{3, 11, 2}, v)

	v, err = ParseVersion("3.6.0rc1")
	require.NoError(t, err)
	assert.Equal(t, Version{3, 6, 0}, v)

	v, err = ParseVersion("")
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, v)

	for _, bad := range []string{"x", "3.", "3.a.1", "3.1a.1"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestAdapter_KeywordAppliedToEveryCall(t *testing.T) {
	backend := &fakeBackend{payload: []byte{0x40, 0x48, 0x00, 0x00}}
	a := NewAdapter(backend, Version{Major: 3, Minor: 6}, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	_, err := a.Read(context.Background(), ReadHolding, 0, 2, 7)
	require.NoError(t, err)
	_, err = a.Write(context.Background(), 10, []uint16{1}, 7)
	require.NoError(t, err)

	assert.Equal(t, KeywordSlave, a.Keyword())
	assert.Equal(t, UnitBinding{Keyword: KeywordSlave, ID: 7}, backend.reads[0].Unit)
	assert.Equal(t, UnitBinding{Keyword: KeywordSlave, ID: 7}, backend.writes[0].Unit)
}

func TestAdapter_ConnectFailure(t *testing.T) {
	backend := &fakeBackend{openErr: errors.New("no such device")}
	a := NewAdapter(backend, DefaultVersion, zap.NewNop())

	err := a.Connect(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, model.ErrTransport)
	assert.Equal(t, "fake://1", connErr.Endpoint)
}

func TestAdapter_ReadBeforeConnect(t *testing.T) {
	a := NewAdapter(&fakeBackend{}, DefaultVersion, zap.NewNop())
	_, err := a.Read(context.Background(), ReadHolding, 0, 1, 1)
	assert.ErrorIs(t, err, model.ErrTransport)
}

func TestAdapter_ReadRegisters(t *testing.T) {
	backend := &fakeBackend{payload: []byte{0x42, 0x48, 0x00, 0x00, 0x00, 0x07}}
	a := NewAdapter(backend, DefaultVersion, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	res, err := a.Read(context.Background(), ReadInput, 100, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x4248, 0x0000, 0x0007}, res.Registers)
	assert.Nil(t, res.Bits)
	assert.Equal(t, uint16(100), backend.reads[0].Address)
}

func TestAdapter_DecodeErrorKeepsPartialResult(t *testing.T) {
	backend := &fakeBackend{payload: []byte{0x42, 0x48, 0x00}}
	a := NewAdapter(backend, DefaultVersion, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	res, err := a.Read(context.Background(), ReadHolding, 0, 2, 1)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.ErrorIs(t, err, model.ErrDecode)
	assert.NotErrorIs(t, err, model.ErrTransport)
	assert.Equal(t, []uint16{0x4248}, res.Registers)
	assert.Equal(t, 4, decErr.Want)
	assert.Equal(t, 3, decErr.Got)
}

func TestAdapter_ReadBits(t *testing.T) {
	backend := &fakeBackend{payload: []byte{0b00000101, 0b00000001}}
	a := NewAdapter(backend, DefaultVersion, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	res, err := a.Read(context.Background(), ReadCoils, 0, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false, false, false, false, false, true, false}, res.Bits)

	backend.payload = []byte{0xFF}
	res, err = a.Read(context.Background(), ReadDiscrete, 0, 10, 1)
	assert.ErrorIs(t, err, model.ErrDecode)
	assert.Len(t, res.Bits, 8)
}

func TestAdapter_ReadFailure(t *testing.T) {
	backend := &fakeBackend{readErr: errors.New("timeout")}
	a := NewAdapter(backend, DefaultVersion, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	_, err := a.Read(context.Background(), ReadHolding, 0, 2, 1)
	assert.ErrorIs(t, err, model.ErrTransport)
}

func TestAdapter_Write(t *testing.T) {
	backend := &fakeBackend{}
	a := NewAdapter(backend, Version{Major: 2}, zap.NewNop())
	require.NoError(t, a.Connect(context.Background()))

	ack, err := a.Write(context.Background(), 40, []uint16{0x4248, 0x0000}, 3)
	require.NoError(t, err)
	assert.Equal(t, Ack{Address: 40, Count: 2}, ack)
	assert.Equal(t, KeywordUnit, backend.writes[0].Unit.Keyword)

	_, err = a.Write(context.Background(), 40, nil, 3)
	assert.Error(t, err)
}

func TestAdapter_Close(t *testing.T) {
	backend := &fakeBackend{}
	a := NewAdapter(backend, DefaultVersion, zap.NewNop())
	require.NoError(t, a.Close())
	assert.False(t, backend.closed)

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Close())
	assert.True(t, backend.closed)
}

func TestPackRegisters(t *testing.T) {
	assert.Equal(t, []byte{0x42, 0x48, 0x00, 0x01}, packRegisters([]uint16{0x4248, 0x0001}))
}

func TestReadKindFor(t *testing.T) {
	k, err := ReadKindFor(model.FunctionInput)
	require.NoError(t, err)
	assert.Equal(t, ReadInput, k)

	_, err = ReadKindFor(model.FunctionStream)
	assert.Error(t, err)
}
