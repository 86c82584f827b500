package entity

// Relation columns shared by the mapping table and the orchestrator.
const (
	ColCustomerID     = "customer_id"
	ColAgentID        = "agent_id"
	ColRegistrationID = "registration_id"
	ColTemplateID     = "template_id"
	ColInvoiceID      = "invoice_id"
	ColPaymentIDs     = "payment_ids"
	ColLineItemIDs    = "line_item_ids"
	ColTotalAmount    = "total_amount"
	ColAmount         = "amount"
)

// Ref points at another entity by remote identifier. The target row may not
// exist locally; dangling refs are kept as they are.
type Ref struct {
	Type     Type
	RemoteID string
}

// InvoiceView is the relation package of one invoice.
type InvoiceView struct {
	RemoteID       string
	CustomerID     string
	AgentID        string
	RegistrationID string
	TemplateID     string
	PaymentIDs     []string
	LineItemIDs    []string
}

func AsInvoice(e *Entity) InvoiceView {
	return InvoiceView{
		RemoteID:       e.RemoteID,
		CustomerID:     e.String(ColCustomerID),
		AgentID:        e.String(ColAgentID),
		RegistrationID: e.String(ColRegistrationID),
		TemplateID:     e.String(ColTemplateID),
		PaymentIDs:     e.Strings(ColPaymentIDs),
		LineItemIDs:    e.Strings(ColLineItemIDs),
	}
}

// Relations lists the refs an invoice package is made of, in the order
// they are checked. Templates are synced separately as secondary data.
func (v InvoiceView) Relations() []Ref {
	var refs []Ref
	if v.CustomerID != "" {
		refs = append(refs, Ref{Customer, v.CustomerID})
	}
	if v.AgentID != "" {
		refs = append(refs, Ref{Agent, v.AgentID})
	}
	if v.RegistrationID != "" {
		refs = append(refs, Ref{Registration, v.RegistrationID})
	}
	for _, id := range v.PaymentIDs {
		refs = append(refs, Ref{Payment, id})
	}
	for _, id := range v.LineItemIDs {
		refs = append(refs, Ref{LineItem, id})
	}
	return refs
}
