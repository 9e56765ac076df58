package interp

// KeychainAccessor performs the actual get/set/delete against the host
// secret store. A transformers/keychain implementation backs this in
// production; tests substitute an in-memory stub.
type KeychainAccessor interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// BuiltinDispatcher looks up a registered transformer in a Container and
// invokes it, gating keychain operations behind ExecutionConfig policy
// and an Approver prompt (§4.7).
type BuiltinDispatcher struct {
	container *Container
	keychain  KeychainAccessor
	cfg       *ExecutionConfig
	approver  Approver
}

// NewBuiltinDispatcher returns a BuiltinDispatcher. keychain may be nil
// if no keychain-backed transformer is registered.
func NewBuiltinDispatcher(container *Container, keychain KeychainAccessor, cfg *ExecutionConfig, approver Approver) *BuiltinDispatcher {
	return &BuiltinDispatcher{container: container, keychain: keychain, cfg: cfg, approver: approver}
}

// Dispatch invokes the named transformer with args, returning its
// StructuredValue result (§4.7 "dispatch by name into the Container's
// registered transformers, wrapping the map result").
func (d *BuiltinDispatcher) Dispatch(ic *InvocationContext, name string, args map[string]any) (*StructuredValue, error) {
	fn, ok := d.container.GetTransformer(name)
	if !ok {
		return nil, &InterpError{
			Kind:    KindResolution,
			Code:    "BUILTIN_NOT_REGISTERED",
			Message: "builtin transformer \"" + name + "\" is not registered",
			Variable: name,
		}
	}

	out, err := fn(ic, args)
	if err != nil {
		return nil, err
	}
	return Wrap(out), nil
}

// KeychainOp names the gated keychain operation an executable may
// request (§3.1 ExecutableDefinition.KeychainOp).
type KeychainOp string

const (
	KeychainGet    KeychainOp = "get"
	KeychainSet    KeychainOp = "set"
	KeychainDelete KeychainOp = "delete"
)

// DispatchKeychain runs a keychain operation after checking policy: a
// missing service/account fails closed with ErrKeychainPolicy, and when
// ExecutionConfig.KeychainRequireApproval is set, a configured Approver
// must approve the access first (§4.7 "keychain access is gated behind
// policy and an approval prompt").
func (d *BuiltinDispatcher) DispatchKeychain(op KeychainOp, service, account, value string) (*StructuredValue, error) {
	if d.keychain == nil {
		return nil, &InterpError{Kind: KindExecution, Code: "KEYCHAIN_UNAVAILABLE", Message: "no keychain accessor configured"}
	}
	if service == "" || account == "" {
		return nil, ErrKeychainPolicy()
	}

	if d.cfg == nil || d.cfg.KeychainRequireApproval {
		if d.approver == nil {
			return nil, &InterpError{
				Kind:    KindPolicySecurity,
				Code:    "KEYCHAIN_APPROVAL_UNAVAILABLE",
				Message: "keychain access requires approval but no approver is configured",
			}
		}
		approved, err := d.approver.RequestApproval("keychain."+string(op), map[string]any{
			"service": service,
			"account": account,
		})
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, ErrLabelFlowDenied("keychain " + string(op) + " for " + service + "/" + account + " was not approved")
		}
	}

	switch op {
	case KeychainGet:
		v, err := d.keychain.Get(service, account)
		if err != nil {
			return nil, err
		}
		d := NewDescriptor([]string{LabelSecret}, []string{TaintKeychain}, nil)
		return Wrap(v).WithDescriptor(&d), nil
	case KeychainSet:
		if err := d.keychain.Set(service, account, value); err != nil {
			return nil, err
		}
		return Wrap(true), nil
	case KeychainDelete:
		if err := d.keychain.Delete(service, account); err != nil {
			return nil, err
		}
		return Wrap(true), nil
	default:
		return nil, &InterpError{Kind: KindValidation, Code: "KEYCHAIN_OP_UNKNOWN", Message: "unknown keychain operation \"" + string(op) + "\""}
	}
}
