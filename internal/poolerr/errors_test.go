package poolerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDirect(t *testing.T) {
	assert.Equal(t, KindMissingRef, Classify(ErrMissingRef))
	assert.Equal(t, KindPrecondition, Classify(ErrPrecondition))
	assert.Equal(t, KindIO, Classify(IO(errors.New("disk full"))))
	assert.Equal(t, KindTransport, Classify(Transport(errors.New("dial failed"))))
	assert.Equal(t, KindUnknown, Classify(nil))
	assert.Equal(t, KindUnknown, Classify(errors.New("something else")))
}

func TestClassifyAfterStringRoundTrip(t *testing.T) {
	// net/rpc marshals errors as bare strings; simulate that by reducing
	// each error to errors.New(err.Error()) the way a client sees it after
	// an rpc.Client.Call.
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"missing-ref", ErrMissingRef, KindMissingRef},
		{"precondition", ErrPrecondition, KindPrecondition},
		{"io", IO(errors.New("read failed")), KindIO},
		{"transport", Transport(errors.New("dial failed")), KindTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			roundTripped := errors.New(tc.err.Error())
			assert.Equal(t, tc.want, Classify(roundTripped))
		})
	}
}

func TestWrappersNilSafe(t *testing.T) {
	assert.Nil(t, IO(nil))
	assert.Nil(t, Transport(nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := IO(cause)
	assert.ErrorIs(t, err, cause)
}
