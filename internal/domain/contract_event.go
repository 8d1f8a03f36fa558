package domain

// ContractEventKind names a non-Transfer event emitted by a token contract.
type ContractEventKind string

// Contract event kinds recorded as append-only entries.
const (
	ContractEventApproval                 ContractEventKind = "Approval"
	ContractEventOwnershipTransferred     ContractEventKind = "OwnershipTransferred"
	ContractEventOwnershipTransferStarted ContractEventKind = "OwnershipTransferStarted"
	ContractEventAdminChanged             ContractEventKind = "AdminChanged"
	ContractEventAddressBlocked           ContractEventKind = "AddressBlocked"
	ContractEventAddressUnblocked         ContractEventKind = "AddressUnblocked"
	ContractEventMintBlocked              ContractEventKind = "MintBlocked"
	ContractEventDelegateChanged          ContractEventKind = "DelegateChanged"
	ContractEventDelegateVotesChanged     ContractEventKind = "DelegateVotesChanged"
	ContractEventEIP712DomainChanged      ContractEventKind = "EIP712DomainChanged"
)

// ContractEvent is an immutable record of a decoded non-Transfer log.
// Params holds the decoded arguments by their ABI names, addresses lower-cased
// and integers in base 10.
type ContractEvent struct {
	ID          string // idhash.ContractEventKey(TxHash, LogIndex)
	Kind        ContractEventKind
	Token       string
	TxHash      string
	LogIndex    uint32
	BlockNumber uint64
	Timestamp   int64
	Params      map[string]string
}

// Cursor is the last applied position of a named event stream.
type Cursor struct {
	Stream   string
	Position Position
}
