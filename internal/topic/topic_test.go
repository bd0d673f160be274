package topic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"HFWM/+/frequency/+", "HFWM/8731/frequency/3", true},
		{"HFWM/+/frequency/+", "HFWM/8731/sigma/3", false},
		{"HFWM/+/frequency/+", "HFWM/8731/frequency", false},
		{"HFWM/+/frequency/+", "HFWM/8731/frequency/3/extra", false},
		{"shutter/#", "shutter2/0", false},
		{"shutter/#", "shutter/0", true},
		{"shutter/#", "shutter/0/a/b", true},
		{"shutter/#", "shutter", true},
		{"#", "anything/at/all", true},
		{"RIGOLPS/0000", "RIGOLPS/0000", true},
		{"RIGOLPS/0000", "RIGOLPS/0001", false},
		{"RIGOLPS/0000", "RIGOLPS/0000/x", false},
		{"+", "single", true},
		{"+", "two/levels", false},
		{"a/+/c", "a//c", true},
		{"a/#/c", "a/b/c", false},
		{"a/b+/c", "a/b+/c", false},
		{"", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.pattern+"->"+tc.topic, func(t *testing.T) {
			assert.Equal(t, tc.want, Matches(tc.pattern, tc.topic))
		})
	}
}

func TestValidatePattern(t *testing.T) {
	require.NoError(t, ValidatePattern("HFWM/+/frequency/+"))
	require.NoError(t, ValidatePattern("HFWM/8731/setpoint/#"))
	require.NoError(t, ValidatePattern("#"))

	err := ValidatePattern("a/#/b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMultiLevelNotEnd))

	err = ValidatePattern("a/fre+q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMixedWildcard))

	assert.ErrorIs(t, ValidatePattern(""), ErrEmptyPattern)
}

func TestValidateTopic(t *testing.T) {
	require.NoError(t, ValidateTopic("HFWM/8731/frequency/1"))
	require.Error(t, ValidateTopic("HFWM/+/frequency/1"))
	require.Error(t, ValidateTopic(""))
}

func TestValidateNATS(t *testing.T) {
	for _, ok := range []string{"HFWM/8731/frequency/1", "HFWM/+/frequency/+", "shutter/#"} {
		assert.NoErrorf(t, ValidateNATS(ok), "%q", ok)
	}
	for _, bad := range []string{"HFWM/87.31/frequency", "lab/a b", "lab//x", "lab/a*", "lab/>x", "/lab"} {
		err := ValidateNATS(bad)
		assert.ErrorIsf(t, err, ErrNATSUnsafe, "%q", bad)
	}

	topic := "HFWM/8731/frequency/1"
	require.NoError(t, ValidateNATS(topic))
	assert.Equal(t, topic, FromNATSSubject(ToNATSSubject(topic)))
}

func TestNATSSubjectTranslation(t *testing.T) {
	assert.Equal(t, "HFWM.*.frequency.*", ToNATSSubject("HFWM/+/frequency/+"))
	assert.Equal(t, "shutter.>", ToNATSSubject("shutter/#"))
	assert.Equal(t, "HFWM/8731/frequency/1", FromNATSSubject("HFWM.8731.frequency.1"))
}
