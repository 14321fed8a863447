package conversation

// Action is one outbound effect the engine wants performed. The engine
// never delivers anything itself; callers execute actions in order because
// operator-alert/customer-ack ordering is part of the contract.
type Action interface {
	isAction()
}

// SendText delivers an SMS to the customer.
type SendText struct {
	To   string
	From string
	Body string
}

// NotifyOperator alerts the tenant's operator (SMS to the forward number,
// plus email when configured).
type NotifyOperator struct {
	TenantID string
	Body     string
}

func (SendText) isAction()       {}
func (NotifyOperator) isAction() {}
