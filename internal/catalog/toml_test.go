package catalog

import (
	"strings"
	"testing"
)

const sampleSchema = `
name = "retail"
relationships = ["orders.customer_id = customers.customer_id"]

[[tables]]
name = "customers"
description = "Customer master"

  [[tables.columns]]
  name = "customer_id"
  type = "integer"
  primary_key = true

  [[tables.columns]]
  name = "user_id"
  type = "text"

  [[tables.columns]]
  name = "company_name"
  type = "text"

[[tables]]
name = "orders"
tenant_scoped = false

  [[tables.columns]]
  name = "order_id"
  type = "integer"

  [[tables.columns]]
  name = "customer_id"
  type = "integer"
  nullable = false

  [[tables.columns]]
  name = "total"
  type = "decimal(10,2)"
`

func TestDecodeSchemaFile(t *testing.T) {
	c, err := Decode(strings.NewReader(sampleSchema))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if c.Name() != "retail" {
		t.Fatalf("Name() = %q", c.Name())
	}
	customers, _ := c.Table("customers")
	if !customers.TenantScoped {
		t.Fatal("tenant_scoped should default to true")
	}
	orders, _ := c.Table("orders")
	if orders.TenantScoped {
		t.Fatal("orders.tenant_scoped = true, want false")
	}
	column, _ := c.Column("orders", "customer_id")
	if column.Nullable {
		t.Fatal("customer_id should not be nullable")
	}
	total, _ := c.Column("orders", "total")
	if total.Type != "DECIMAL(10,2)" || !total.IsNumeric() {
		t.Fatalf("total = %+v", total)
	}
	if _, ok := c.RelationshipBetween("customers", "orders"); !ok {
		t.Fatal("expected relationship")
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader(sampleSchema + "\n[extra]\nkey = 1\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("Decode() error = %v", err)
	}
}

func TestDecodeRejectsBadRelationship(t *testing.T) {
	bad := strings.Replace(sampleSchema, "orders.customer_id = customers.customer_id", "orders.customer_id", 1)
	if _, err := Decode(strings.NewReader(bad)); err == nil {
		t.Fatal("expected relationship parse error")
	}
}
