package catalog

// ERP returns the built-in accounting and inventory schema. Every table is
// tenant scoped through user_id and company_name.
func ERP() *Catalog {
	tables := []Table{
		tenantTable("ledger", "Ledger accounts for parties, banks, income and expense heads",
			pk("ledger_id"),
			text("ledger_name"),
			text("group_name"),
			text("ledger_type"),
			money("opening_balance"),
			money("closing_balance"),
			text("email"),
			text("phone"),
			text("address"),
			date("created_date"),
		),
		tenantTable("voucher", "Accounting vouchers such as journal, payment and receipt entries",
			pk("voucher_id"),
			text("voucher_number"),
			text("voucher_type"),
			date("date"),
			fk("ledger_id", "ledger.ledger_id"),
			money("amount"),
			text("narration"),
		),
		tenantTable("sales", "Sales invoices by line item",
			pk("sales_id"),
			text("invoice_number"),
			date("date"),
			fk("ledger_id", "ledger.ledger_id"),
			fk("stock_item_id", "stock_item.stock_item_id"),
			integer("quantity"),
			money("rate"),
			money("amount"),
			money("tax_amount"),
			text("status"),
		),
		tenantTable("purchase", "Purchase bills by line item",
			pk("purchase_id"),
			text("bill_number"),
			date("date"),
			fk("ledger_id", "ledger.ledger_id"),
			fk("stock_item_id", "stock_item.stock_item_id"),
			integer("quantity"),
			money("rate"),
			money("amount"),
			money("tax_amount"),
			text("status"),
		),
		tenantTable("stock_item", "Inventory items with on-hand quantity and valuation",
			pk("stock_item_id"),
			text("item_name"),
			text("category"),
			text("unit"),
			integer("quantity"),
			money("rate"),
			money("value"),
			integer("reorder_level"),
		),
		tenantTable("employee", "Employees on the payroll",
			pk("employee_id"),
			text("name"),
			text("designation"),
			text("department"),
			text("email"),
			text("phone"),
			money("salary"),
			date("date_of_joining"),
			text("status"),
		),
		tenantTable("payroll", "Monthly payroll runs per employee",
			pk("payroll_id"),
			fk("employee_id", "employee.employee_id"),
			text("pay_period"),
			date("date"),
			money("basic"),
			money("allowances"),
			money("deductions"),
			money("net_pay"),
		),
		tenantTable("tax_entry", "Tax lines (GST, VAT, TDS) attached to vouchers",
			pk("tax_entry_id"),
			fk("voucher_id", "voucher.voucher_id"),
			text("tax_type"),
			money("rate"),
			money("taxable_amount"),
			money("tax_amount"),
			date("date"),
		),
	}

	relationships := []Relationship{
		{FromTable: "voucher", FromColumn: "ledger_id", ToTable: "ledger", ToColumn: "ledger_id"},
		{FromTable: "sales", FromColumn: "ledger_id", ToTable: "ledger", ToColumn: "ledger_id"},
		{FromTable: "sales", FromColumn: "stock_item_id", ToTable: "stock_item", ToColumn: "stock_item_id"},
		{FromTable: "purchase", FromColumn: "ledger_id", ToTable: "ledger", ToColumn: "ledger_id"},
		{FromTable: "purchase", FromColumn: "stock_item_id", ToTable: "stock_item", ToColumn: "stock_item_id"},
		{FromTable: "payroll", FromColumn: "employee_id", ToTable: "employee", ToColumn: "employee_id"},
		{FromTable: "tax_entry", FromColumn: "voucher_id", ToTable: "voucher", ToColumn: "voucher_id"},
	}

	c, err := New("erp", tables, relationships)
	if err != nil {
		panic("catalog: invalid built-in ERP schema: " + err.Error())
	}
	return c
}

func tenantTable(name, description string, columns ...Column) Table {
	all := make([]Column, 0, len(columns)+2)
	all = append(all, columns[0])
	all = append(all, text("user_id"), text("company_name"))
	all = append(all, columns[1:]...)
	return Table{Name: name, Description: description, Columns: all, TenantScoped: true}
}

func pk(name string) Column { return Column{Name: name, Type: "INTEGER", PrimaryKey: true} }

func fk(name, ref string) Column { return Column{Name: name, Type: "INTEGER", ForeignKey: ref} }

func text(name string) Column { return Column{Name: name, Type: "TEXT", Nullable: true} }

func integer(name string) Column { return Column{Name: name, Type: "INTEGER", Nullable: true} }

func money(name string) Column { return Column{Name: name, Type: "DECIMAL(15,2)", Nullable: true} }

func date(name string) Column { return Column{Name: name, Type: "DATE", Nullable: true} }
