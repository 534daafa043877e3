package validator_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciffer/beermqtt/pkg/models"
	"github.com/sciffer/beermqtt/pkg/validator"
)

func reads(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"sensor_id":%d,"value":%d}`, i%41, i)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestValidateAccepts(t *testing.T) {
	v := validator.New(64 * 1024)

	t.Run("mixed values", func(t *testing.T) {
		batch, err := v.Validate([]byte(`{
			"date": "2024-05-01T10:00:00.123+02:00",
			"reads": [
				{"sensor_id": 0, "value": 21.5},
				{"sensor_id": 40, "value": "open"},
				{"sensor_id": 7, "value": -3}
			]
		}`))
		require.NoError(t, err)

		assert.Equal(t, "2024-05-01T10:00:00.123+02:00", batch.Date)
		assert.Equal(t, []models.Read{
			{SensorID: 0, Value: models.NumberValue("21.5")},
			{SensorID: 40, Value: models.StringValue("open")},
			{SensorID: 7, Value: models.NumberValue("-3")},
		}, batch.Reads)
	})

	t.Run("lower case and space separated dates are kept as sent", func(t *testing.T) {
		for _, date := range []string{
			"2024-05-01t10:00:00z",
			"2024-05-01 10:00:00Z",
			"2024-05-01t10:00:00.5+02:00",
		} {
			batch, err := v.Validate([]byte(`{"date":"` + date + `","reads":[{"sensor_id":1,"value":"1"}]}`))
			require.NoError(t, err, date)
			assert.Equal(t, date, batch.Date)
		}
	})

	t.Run("integral sensor ids in any number form", func(t *testing.T) {
		batch, err := v.Validate([]byte(`{"date":"2024-05-01T10:00:00Z","reads":[
			{"sensor_id":1.0,"value":"a"},
			{"sensor_id":1e1,"value":"b"},
			{"sensor_id":4.0E1,"value":"c"},
			{"sensor_id":-0,"value":"d"}
		]}`))
		require.NoError(t, err)
		require.Len(t, batch.Reads, 4)
		assert.Equal(t, 1, batch.Reads[0].SensorID)
		assert.Equal(t, 10, batch.Reads[1].SensorID)
		assert.Equal(t, 40, batch.Reads[2].SensorID)
		assert.Equal(t, 0, batch.Reads[3].SensorID)
	})

	t.Run("forty reads", func(t *testing.T) {
		batch, err := v.Validate([]byte(`{"date":"2024-05-01T10:00:00Z","reads":` + reads(40) + `}`))
		require.NoError(t, err)
		assert.Len(t, batch.Reads, 40)
	})
}

func TestValidateRejects(t *testing.T) {
	v := validator.New(64 * 1024)

	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"not json", `not json`, []string{"payload: must be a JSON object"}},
		{"array", `[1,2]`, []string{"payload: must be a JSON object"}},
		{"null", `null`, []string{"payload: must be a JSON object"}},
		{"missing date", `{"reads":[{"sensor_id":1,"value":"1"}]}`, []string{"date: required"}},
		{"bad date", `{"date":"yesterday","reads":[{"sensor_id":1,"value":"1"}]}`, []string{"date: must be an RFC 3339 date-time"}},
		{"date without zone", `{"date":"2024-05-01T10:00:00","reads":[{"sensor_id":1,"value":"1"}]}`, []string{"date: must be an RFC 3339 date-time"}},
		{"numeric date", `{"date":1714557600,"reads":[{"sensor_id":1,"value":"1"}]}`, []string{"date: must be a string"}},
		{"missing reads", `{"date":"2024-05-01T10:00:00Z"}`, []string{"reads: required"}},
		{"reads not array", `{"date":"2024-05-01T10:00:00Z","reads":{}}`, []string{"reads: must be an array"}},
		{"empty reads", `{"date":"2024-05-01T10:00:00Z","reads":[]}`, []string{"reads: must contain at least 1 item"}},
		{"too many reads", `{"date":"2024-05-01T10:00:00Z","reads":` + reads(41) + `}`, []string{"reads: must contain at most 40 items"}},
		{"sensor 41", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":41,"value":"1"}]}`, []string{"reads[0].sensor_id: must be between 0 and 40"}},
		{"negative sensor", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":-1,"value":"1"}]}`, []string{"reads[0].sensor_id: must be between 0 and 40"}},
		{"date with bad separator", `{"date":"2024-05-01x10:00:00Z","reads":[{"sensor_id":1,"value":"1"}]}`, []string{"date: must be an RFC 3339 date-time"}},
		{"sensor 4.1e1", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":4.1e1,"value":"1"}]}`, []string{"reads[0].sensor_id: must be between 0 and 40"}},
		{"huge sensor", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1e300,"value":"1"}]}`, []string{"reads[0].sensor_id: must be between 0 and 40"}},
		{"fractional sensor", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1.5,"value":"1"}]}`, []string{"reads[0].sensor_id: must be an integer"}},
		{"string sensor", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":"1","value":"1"}]}`, []string{"reads[0].sensor_id: must be an integer"}},
		{"empty value", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1,"value":""}]}`, []string{"reads[0].value: must not be empty"}},
		{"bool value", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1,"value":true}]}`, []string{"reads[0].value: must be a number or a string"}},
		{"null value", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1,"value":null}]}`, []string{"reads[0].value: must be a number or a string"}},
		{"missing value", `{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1}]}`, []string{"reads[0].value: required"}},
		{"read not object", `{"date":"2024-05-01T10:00:00Z","reads":[3]}`, []string{"reads[0].entry: must be an object"}},
		{"unknown top-level field", `{"id":3,"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1,"value":"1"}]}`, []string{"id: unknown field"}},
		{"unknown read field", `{"date":"2024-05-01T10:00:00Z","reads":[{"id":3,"sensor_id":1,"value":"1"}]}`, []string{"reads[0].id: unknown field"}},
		{
			"collects every violation",
			`{"extra":true,"reads":[{"sensor_id":1,"value":"ok"},{"sensor_id":99,"value":""}]}`,
			[]string{
				"extra: unknown field",
				"date: required",
				"reads[1].sensor_id: must be between 0 and 40",
				"reads[1].value: must not be empty",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := v.Validate([]byte(tt.payload))
			require.Error(t, err)
			assert.Nil(t, batch)

			var verr *validator.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Violations)
		})
	}
}

func TestValidatePayloadSize(t *testing.T) {
	v := validator.New(32)

	_, err := v.Validate([]byte(`{"date":"2024-05-01T10:00:00Z","reads":[{"sensor_id":1,"value":"1"}]}`))
	var verr *validator.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"payload: exceeds 32 bytes"}, verr.Violations)
}
