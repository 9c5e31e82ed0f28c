package lexicon

// TableAlias maps domain vocabulary onto a canonical table name.
type TableAlias struct {
	Table string
	Words []string
}

// ColumnAlias maps a hint onto canonical column names in priority order.
type ColumnAlias struct {
	Hint    string
	Words   []string
	Targets []string
}

// ContextBucket is a keyword set that suggests tables when nothing names one
// directly.
type ContextBucket struct {
	Keywords []string
	Tables   []string
}

var DefaultTableAliases = []TableAlias{
	{Table: "ledger", Words: []string{"ledger", "ledgers", "account", "accounts", "party", "parties", "customer", "customers", "client", "clients", "debtor", "debtors", "creditor", "creditors", "supplier", "suppliers", "vendor", "vendors"}},
	{Table: "voucher", Words: []string{"voucher", "vouchers", "transaction", "transactions", "journal", "journals", "entry", "entries", "receipt", "receipts", "payment", "payments"}},
	{Table: "sales", Words: []string{"sale", "sales", "invoice", "invoices", "revenue"}},
	{Table: "purchase", Words: []string{"purchase", "purchases", "bill", "bills"}},
	{Table: "stock_item", Words: []string{"stock", "stocks", "item", "items", "inventory", "product", "products", "goods"}},
	{Table: "employee", Words: []string{"employee", "employees", "staff", "worker", "workers", "personnel"}},
	{Table: "payroll", Words: []string{"payroll", "payrolls", "payslip", "payslips", "wages"}},
	{Table: "tax_entry", Words: []string{"tax", "taxes", "gst", "vat", "tds"}},
}

var DefaultColumnAliases = []ColumnAlias{
	{Hint: "balance", Words: []string{"balance", "balances"}, Targets: []string{"closing_balance", "opening_balance"}},
	{Hint: "name", Words: []string{"name", "names"}, Targets: []string{"ledger_name", "item_name", "name"}},
	{Hint: "amount", Words: []string{"amount", "amounts"}, Targets: []string{"amount", "net_pay", "tax_amount", "taxable_amount"}},
	{Hint: "price", Words: []string{"price", "prices", "cost", "costs"}, Targets: []string{"rate", "amount"}},
	{Hint: "value", Words: []string{"value", "valuation"}, Targets: []string{"value", "amount"}},
	{Hint: "quantity", Words: []string{"quantity", "qty", "units"}, Targets: []string{"quantity"}},
	{Hint: "date", Words: []string{"date", "dated"}, Targets: []string{"date", "created_date", "date_of_joining"}},
	{Hint: "joining", Words: []string{"joined", "joining", "hired"}, Targets: []string{"date_of_joining"}},
	{Hint: "salary", Words: []string{"salary", "salaries", "pay"}, Targets: []string{"salary", "net_pay", "basic"}},
	{Hint: "category", Words: []string{"category", "categories"}, Targets: []string{"category", "group_name"}},
	{Hint: "group", Words: []string{"group", "groups"}, Targets: []string{"group_name", "category"}},
	{Hint: "type", Words: []string{"type", "types", "kind"}, Targets: []string{"ledger_type", "voucher_type", "tax_type", "category"}},
	{Hint: "department", Words: []string{"department", "departments", "dept"}, Targets: []string{"department"}},
	{Hint: "designation", Words: []string{"role", "roles", "position", "title"}, Targets: []string{"designation"}},
	{Hint: "invoice", Words: []string{"invoice"}, Targets: []string{"invoice_number"}},
	{Hint: "bill", Words: []string{"bill"}, Targets: []string{"bill_number"}},
	{Hint: "email", Words: []string{"email", "mail"}, Targets: []string{"email"}},
	{Hint: "phone", Words: []string{"phone", "mobile", "contact"}, Targets: []string{"phone"}},
	{Hint: "address", Words: []string{"address", "location"}, Targets: []string{"address"}},
	{Hint: "status", Words: []string{"status", "state"}, Targets: []string{"status"}},
	{Hint: "period", Words: []string{"period"}, Targets: []string{"pay_period"}},
	{Hint: "party", Words: []string{"customer", "customers", "party", "parties", "supplier", "suppliers", "vendor", "vendors", "client", "clients"}, Targets: []string{"ledger_name"}},
	{Hint: "item", Words: []string{"item", "items", "product", "products"}, Targets: []string{"item_name"}},
	{Hint: "employee", Words: []string{"employee", "employees", "staff"}, Targets: []string{"name"}},
	{Hint: "narration", Words: []string{"narration", "description", "remarks"}, Targets: []string{"narration"}},
}

var DefaultContextBuckets = []ContextBucket{
	{Keywords: []string{"balance", "owe", "owes", "outstanding", "debit", "credit", "receivable", "payable"}, Tables: []string{"ledger"}},
	{Keywords: []string{"sold", "selling", "turnover", "billing"}, Tables: []string{"sales"}},
	{Keywords: []string{"bought", "buying", "procure", "procurement"}, Tables: []string{"purchase"}},
	{Keywords: []string{"salary", "salaries", "hire", "hired", "joined", "designation", "department"}, Tables: []string{"employee"}},
	{Keywords: []string{"paid", "allowance", "allowances", "deduction", "deductions"}, Tables: []string{"payroll"}},
	{Keywords: []string{"warehouse", "reorder", "on hand", "valuation"}, Tables: []string{"stock_item"}},
	{Keywords: []string{"narration", "contra"}, Tables: []string{"voucher"}},
}

// stopWords never resolve to a schema element, even by containment.
var stopWords = map[string]struct{}{
	"a": {}, "all": {}, "an": {}, "and": {}, "any": {}, "are": {}, "as": {}, "at": {}, "by": {},
	"each": {}, "for": {}, "from": {}, "get": {}, "give": {}, "has": {}, "have": {}, "how": {},
	"in": {}, "is": {}, "it": {}, "list": {}, "me": {}, "more": {}, "less": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "per": {}, "show": {}, "than": {}, "that": {}, "the": {}, "their": {},
	"them": {}, "there": {}, "this": {}, "to": {}, "total": {}, "was": {}, "were": {}, "what": {},
	"where": {}, "which": {}, "who": {}, "whose": {}, "with": {}, "named": {}, "called": {},
}

func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}
