package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/cloudlog/internal/mapper"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		in   string
		want Source
	}{
		{"audit", Audit},
		{"AUDIT", Audit},
		{"bigquery", BigQuery},
		{"cloud_armor", CloudArmor},
		{"cloud-armor", CloudArmor},
		{" cloudarmor ", CloudArmor},
	}
	for _, tt := range tests {
		got, err := ParseSource(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseSource("vpcflow")
	assert.Error(t, err)
}

func TestSourceRoundTrip(t *testing.T) {
	for _, s := range Sources() {
		parsed, err := ParseSource(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.Equal(t, "source(9)", Source(9).String())
}

func TestFor(t *testing.T) {
	for _, s := range Sources() {
		t.Run(s.String(), func(t *testing.T) {
			sc, err := For(s)
			require.NoError(t, err)
			assert.Equal(t, s, sc.Source)
			assert.NotEmpty(t, sc.Payload)
			assert.NotEmpty(t, sc.PayloadRules)
			assert.NotEmpty(t, sc.Common)

			// Payload rules run after promotion and must read from the staging root and
			// write into the canonical namespace.
			for _, f := range sc.PayloadRules {
				assert.True(t, strings.HasPrefix(f.From, "json."), f.From)
				assert.False(t, strings.HasPrefix(f.To, "json"), f.To)
			}
			// Common copies only read canonical fields.
			for _, f := range sc.Common {
				assert.False(t, strings.HasPrefix(f.From, "json"), f.From)
			}
		})
	}

	_, err := For(Source(0))
	assert.Error(t, err)
}

func TestFor_CommonSourcesAreProduced(t *testing.T) {
	for _, s := range Sources() {
		sc, err := For(s)
		require.NoError(t, err)

		produced := map[string]bool{}
		for _, group := range [][]string{targets(sc.Cloud), targets(sc.Entry), targets(sc.PayloadRules)} {
			for _, to := range group {
				produced[to] = true
			}
		}
		for _, f := range sc.Common {
			assert.True(t, produced[f.From], "%s: %s is never produced", s, f.From)
		}
	}
}

func TestFor_Categorizer(t *testing.T) {
	audit, err := For(Audit)
	require.NoError(t, err)
	assert.Equal(t, "gcp.audit.status.code", audit.Categorizer.StatusField)

	bq, err := For(BigQuery)
	require.NoError(t, err)
	assert.Equal(t, "gcp.bigquery.status.code", bq.Categorizer.StatusField)
	assert.Equal(t, "gcp.bigquery.authorization_info", bq.Categorizer.AuthorizationField)

	armor, err := For(CloudArmor)
	require.NoError(t, err)
	assert.Empty(t, armor.Categorizer.StatusField)
	assert.Equal(t, "jsonPayload", armor.Payload)
}

func TestFor_StatusFields(t *testing.T) {
	for _, s := range []Source{Audit, BigQuery} {
		sc, err := For(s)
		require.NoError(t, err)

		assert.Equal(t, sc.Namespace+".status_temp", sc.RawStatusField(), s.String())
		assert.True(t, strings.HasPrefix(sc.Categorizer.StatusField, sc.Namespace+"."), s.String())
		assert.True(t, strings.HasPrefix(sc.Categorizer.AuthorizationField, sc.Namespace+"."), s.String())

		var rule *mapper.Field
		for i := range sc.PayloadRules {
			if sc.PayloadRules[i].From == sc.StatusCode {
				rule = &sc.PayloadRules[i]
			}
		}
		require.NotNil(t, rule, "%s: no rule reads %s", s, sc.StatusCode)
		assert.Equal(t, sc.Categorizer.StatusField, rule.To)
		assert.Equal(t, mapper.Integer, rule.Type)
	}

	armor, err := For(CloudArmor)
	require.NoError(t, err)
	assert.Equal(t, "gcp.cloud_armor", armor.Namespace)
	assert.Empty(t, armor.RawStatusField())
	assert.Empty(t, Schema{StatusCode: "json.status.code"}.RawStatusField())
}

func targets(fields []mapper.Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.To)
	}
	return out
}
