package uid

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	assert := assert.New(t)

	t.Run("user ids are tagged and padded", func(t *testing.T) {
		id, err := Encode(0, KindUser)
		assert.Nil(err)
		assert.Equal("Uaaaaa", id)

		id, err = Encode(1, KindUser)
		assert.Nil(err)
		assert.Equal("Uaaaab", id)

		id, err = Encode(26, KindUser)
		assert.Nil(err)
		assert.Equal("Uaaaba", id)
	})

	t.Run("comment ids are tagged and padded", func(t *testing.T) {
		id, err := Encode(0, KindComment)
		assert.Nil(err)
		assert.Equal("C000", id)

		id, err = Encode(61, KindComment)
		assert.Nil(err)
		assert.Equal("C00Z", id)

		id, err = Encode(62, KindComment)
		assert.Nil(err)
		assert.Equal("C010", id)
	})

	t.Run("negative ids are rejected", func(t *testing.T) {
		_, err := Encode(-1, KindUser)
		assert.ErrorIs(err, ErrorInvalidID)
	})

	t.Run("width grows beyond the minimum", func(t *testing.T) {
		id, err := Encode(26*26*26*26*26, KindUser)
		assert.Nil(err)
		assert.Equal("Ubaaaaa", id)
	})
}

func TestDecode(t *testing.T) {
	assert := assert.New(t)

	t.Run("rejects a missing or wrong tag", func(t *testing.T) {
		_, err := Decode("aaaab", KindUser)
		assert.ErrorIs(err, ErrorInvalidID)

		_, err = Decode("Caaaab", KindUser)
		assert.ErrorIs(err, ErrorInvalidID)
	})

	t.Run("rejects digits outside the alphabet", func(t *testing.T) {
		_, err := Decode("Uaaa1b", KindUser)
		assert.ErrorIs(err, ErrorInvalidID)

		_, err = Decode("C0-0", KindComment)
		assert.ErrorIs(err, ErrorInvalidID)
	})

	t.Run("rejects truncated input", func(t *testing.T) {
		_, err := Decode("Uab", KindUser)
		assert.ErrorIs(err, ErrorInvalidID)
	})

	t.Run("rejects values beyond int64", func(t *testing.T) {
		_, err := Decode("U"+strings.Repeat("z", 50), KindUser)
		assert.ErrorIs(err, ErrorInvalidID)

		_, err = Decode("C"+strings.Repeat("Z", 20), KindComment)
		assert.ErrorIs(err, ErrorInvalidID)

		// the largest encodable value still round-trips
		encoded, err := Encode(math.MaxInt64, KindUser)
		assert.Nil(err)
		decoded, err := Decode(encoded, KindUser)
		assert.Nil(err)
		assert.Equal(int64(math.MaxInt64), decoded)
	})
}

func TestRoundTrip(t *testing.T) {
	assert := assert.New(t)

	for _, kind := range []Kind{KindUser, KindComment} {
		for _, n := range []int64{0, 1, 25, 26, 61, 62, 675, 676, 8191, 11881375, 11881376, 1<<40 + 7} {
			t.Run(fmt.Sprintf("kind=%d n=%d", kind, n), func(t *testing.T) {
				encoded, err := Encode(n, kind)
				assert.Nil(err)
				decoded, err := Decode(encoded, kind)
				assert.Nil(err)
				assert.Equal(n, decoded)
			})
		}
	}
}
