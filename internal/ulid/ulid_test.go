package ulid

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	assert.False(t, id.IsZero(), "Generated ULID should not be zero")

	// Verify it contains a valid timestamp close to now
	now := time.Now()
	timeDiff := now.Sub(id.Time()).Seconds()
	assert.True(t, timeDiff < 1.0, "ULID timestamp should be close to now")
}

func TestGenerateWithPrefix(t *testing.T) {
	prefixes := []string{PrefixRun, PrefixDelivery, PrefixComment, "custom"}

	for _, prefix := range prefixes {
		id := GenerateWithPrefix(prefix)

		assert.Equal(t, prefix, id.Prefix(), "Prefix should match the provided value")
		assert.Contains(t, id.String(), prefix+PrefixSeparator,
			"String representation should contain the prefix")
	}
}

func TestParse(t *testing.T) {
	rawULID := Generate()
	parsedRaw, err := Parse(rawULID.String())
	require.NoError(t, err)
	assert.Equal(t, rawULID, parsedRaw)

	prefixed := GenerateWithPrefix(PrefixRun)
	parsedPrefixed, err := Parse(prefixed.String())
	require.NoError(t, err)
	assert.Equal(t, prefixed, parsedPrefixed)
	assert.Equal(t, PrefixRun, parsedPrefixed.Prefix())

	_, err = Parse("not-a-ulid")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(RunID()))
	assert.True(t, Validate(Generate().String()))
	assert.False(t, Validate("run-short"))
	assert.False(t, Validate(""))
}

func TestDomainIDs(t *testing.T) {
	run := RunID()
	delivery := DeliveryID()
	comment := CommentID()

	for id, prefix := range map[string]string{
		run:      PrefixRun,
		delivery: PrefixDelivery,
		comment:  PrefixComment,
	} {
		parsed, err := Parse(id)
		require.NoError(t, err)
		assert.Equal(t, prefix, parsed.Prefix())
	}
}

func TestJSONRoundTrip(t *testing.T) {
	id := GenerateWithPrefix(PrefixRun)

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.JSONEq(t, `"`+id.String()+`"`, string(data))

	var decoded ULID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)
}

func TestLexicographicOrder(t *testing.T) {
	earlier := NewWithTime(time.Now().Add(-time.Hour))
	later := NewWithTime(time.Now())

	assert.Less(t, earlier.RawString(), later.RawString(),
		"Earlier ULIDs should sort before later ones")
}
