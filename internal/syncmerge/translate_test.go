package syncmerge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func invoiceMapping(t *testing.T) EntityMapping {
	t.Helper()
	m, ok := DefaultMappings()["invoices"]
	require.True(t, ok)
	return m
}

func TestFromWire_CanonicalPayload(t *testing.T) {
	m := invoiceMapping(t)

	row, err := m.FromWire(map[string]any{
		"id":          "inv-1",
		"updated_at":  "2024-05-01T10:00:00Z",
		"contract_id": "c-1",
		"number":      "INV-001",
		"amount":      120.5,
		"status":      "open",
		"due_at":      "2024-06-01T00:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "inv-1", row.ID)
	assert.Equal(t, ts("2024-05-01T10:00:00Z"), row.UpdatedAt)
	assert.False(t, row.Tombstone())
	assert.Equal(t, "c-1", row.Fields["contract_id"])
	assert.Equal(t, 120.5, row.Fields["amount"])
	assert.Equal(t, ts("2024-06-01T00:00:00Z"), row.Fields["due_at"])
}

func TestFromWire_CamelCaseFallback(t *testing.T) {
	m := invoiceMapping(t)

	row, err := m.FromWire(map[string]any{
		"id":         "inv-2",
		"updatedAt":  "2024-05-01T10:00:00Z",
		"contractId": "c-2",
		"dueAt":      "2024-06-01T00:00:00Z",
		"number":     "INV-002",
	})
	require.NoError(t, err)
	assert.Equal(t, "c-2", row.Fields["contract_id"])
	assert.Equal(t, ts("2024-05-01T10:00:00Z"), row.UpdatedAt)
	assert.Equal(t, ts("2024-06-01T00:00:00Z"), row.Fields["due_at"])
}

func TestFromWire_NumericAsString(t *testing.T) {
	m := invoiceMapping(t)

	row, err := m.FromWire(map[string]any{
		"id":     "inv-3",
		"number": "INV-003",
		"amount": "99.95",
	})
	require.NoError(t, err)
	assert.Equal(t, 99.95, row.Fields["amount"])
}

func TestFromWire_MissingOptionalsGetDefaults(t *testing.T) {
	m := invoiceMapping(t)

	row, err := m.FromWire(map[string]any{"id": "inv-4"})
	require.NoError(t, err)

	assert.Equal(t, "open", row.Fields["status"])
	assert.Equal(t, float64(0), row.Fields["amount"])
	assert.Equal(t, "", row.Fields["number"])
	// No default declared for due_at: stays unset.
	_, ok := row.Fields["due_at"]
	assert.False(t, ok)
}

func TestFromWire_Tombstone(t *testing.T) {
	m := invoiceMapping(t)

	row, err := m.FromWire(map[string]any{
		"id":         "inv-5",
		"deleted_at": "2024-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	require.True(t, row.Tombstone())
	assert.Equal(t, ts("2024-01-01T00:00:00Z"), *row.DeletedAt)
}

func TestFromWire_NestedJSONString(t *testing.T) {
	m, ok := DefaultMappings()["contracts"]
	require.True(t, ok)

	row, err := m.FromWire(map[string]any{
		"id":         "c-1",
		"account_id": "a-1",
		"label":      "Office lease",
		"terms_json": `{"deposit":2,"notice_months":3}`,
	})
	require.NoError(t, err)

	terms, ok := row.Fields["terms"].(map[string]any)
	require.True(t, ok, "JSON-encoded nested structure must be decoded")
	assert.Equal(t, float64(3), terms["notice_months"])
}

func TestFromWire_BadTimestampErrors(t *testing.T) {
	m := invoiceMapping(t)
	_, err := m.FromWire(map[string]any{
		"id":     "inv-6",
		"due_at": "not a time",
	})
	assert.Error(t, err)
}

func TestToWire_RoundTripsDefinedFields(t *testing.T) {
	m := invoiceMapping(t)

	wire := map[string]any{
		"id":          "inv-7",
		"updated_at":  "2024-05-01T10:00:00Z",
		"contract_id": "c-7",
		"number":      "INV-007",
		"amount":      50.0,
		"status":      "paid",
		"due_at":      "2024-06-01T00:00:00Z",
	}
	row, err := m.FromWire(wire)
	require.NoError(t, err)

	rec := Record{ID: row.ID, UpdatedAt: row.UpdatedAt, Fields: row.Fields}
	back := m.ToWire(rec)

	assert.Equal(t, wire, back)
}

func TestSnakeToCamel(t *testing.T) {
	assert.Equal(t, "dueAt", snakeToCamel("due_at"))
	assert.Equal(t, "termsJson", snakeToCamel("terms_json"))
	assert.Equal(t, "id", snakeToCamel("id"))
}
