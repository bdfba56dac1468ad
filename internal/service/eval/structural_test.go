package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tessen-ai/kanshi/internal/agentdb"
	"github.com/tessen-ai/kanshi/internal/model"
)

func discoveredCols() []model.DiscoveredColumn {
	cols := []struct{ table, col string }{
		{"orders", "id"},
		{"orders", "customer_id"},
		{"orders", "total"},
		{"customers", "id"},
		{"customers", "name"},
		{"customers", "region"},
	}
	out := make([]model.DiscoveredColumn, len(cols))
	for i, c := range cols {
		out[i] = model.DiscoveredColumn{SchemaName: "public", TableName: c.table, ColumnName: c.col}
	}
	return out
}

func TestValidateCleanQuery(t *testing.T) {
	v := NewStructuralValidator(discoveredCols())
	res := v.Validate(context.Background(), nil, "SELECT o.total FROM orders o WHERE o.id = 1")
	assert.True(t, res.Valid)
	assert.Equal(t, 1.0, res.Score)
	assert.False(t, res.RequiresClassification)
}

func TestValidateQualifiedTable(t *testing.T) {
	v := NewStructuralValidator(discoveredCols())
	res := v.Validate(context.Background(), nil, "SELECT total FROM public.orders")
	assert.Equal(t, 1.0, res.Score)
}

func TestValidateUnknownTable(t *testing.T) {
	v := NewStructuralValidator(discoveredCols())
	res := v.Validate(context.Background(), nil, "SELECT x FROM shipments")
	assert.False(t, res.Valid)
	assert.Equal(t, 0.5, res.Score)
	assert.NotEmpty(t, res.SchemaErrors)
}

func TestValidateUnknownColumn(t *testing.T) {
	v := NewStructuralValidator(discoveredCols())
	res := v.Validate(context.Background(), nil, "SELECT o.discount FROM orders o")
	assert.Equal(t, 0.5, res.Score)
	assert.Contains(t, res.SchemaErrors[0], "discount")
}

func TestValidateAliasResolution(t *testing.T) {
	v := NewStructuralValidator(discoveredCols())
	sql := "SELECT c.region, o.total FROM orders AS o JOIN customers AS c ON o.customer_id = c.id"
	res := v.Validate(context.Background(), nil, sql)
	assert.Equal(t, 1.0, res.Score)
}

func TestValidateEmptySQL(t *testing.T) {
	v := NewStructuralValidator(discoveredCols())
	res := v.Validate(context.Background(), nil, "   ")
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, agentdb.ErrSyntax, res.ErrorKind)
	assert.True(t, res.RequiresClassification)
}

func TestValidateNoSchemaCache(t *testing.T) {
	// Without discovered columns the schema stage cannot reject anything.
	v := NewStructuralValidator(nil)
	res := v.Validate(context.Background(), nil, "SELECT anything FROM anywhere")
	assert.Equal(t, 1.0, res.Score)
}
