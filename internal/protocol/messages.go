package protocol

// Code is the discriminant carried as the first element of every command.
type Code string

const (
	CodeGet     Code = "GET"
	CodePut     Code = "PUT"
	CodeUpdate  Code = "UPDATE"
	CodeDelete  Code = "DELETE"
	CodeOptions Code = "OPTIONS"
)

// Shape identifies which response layout a command is answered with.
// The wire carries no tag for it, so the decoder must be told.
type Shape uint8

const (
	ShapeGet Shape = iota + 1
	ShapeAck
)

func (s Shape) String() string {
	switch s {
	case ShapeGet:
		return "GET_RESPONSE"
	case ShapeAck:
		return "UPD_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

const (
	StatusOK       = "OK"
	StatusNotFound = "NOT_FOUND"
	StatusError    = "ERROR"
)

// Command is a client-to-server request. The set of implementations is closed:
// Get, Put, Update, Delete and Options.
type Command interface {
	Code() Code
	Expects() Shape
	command()
}

type Get struct {
	Table string
	Key   string
}

type Put struct {
	Table string
	Key   string
	Value map[string][]byte
}

type Update struct {
	Table string
	Key   string
	Value map[string][]byte
}

type Delete struct {
	Table string
	Key   string
}

// Options carries the fault-injection parameters pushed to a node.
type Options struct {
	SyncInterval           int     `json:"sync_interval"`
	StripInterval          int     `json:"strip_interval"`
	ReplicationFailureRate float32 `json:"replication_failure_rate"`
	NodeFailureRate        int     `json:"node_failure_rate"`
}

func (Get) Code() Code     { return CodeGet }
func (Put) Code() Code     { return CodePut }
func (Update) Code() Code  { return CodeUpdate }
func (Delete) Code() Code  { return CodeDelete }
func (Options) Code() Code { return CodeOptions }

func (Get) Expects() Shape     { return ShapeGet }
func (Put) Expects() Shape     { return ShapeAck }
func (Update) Expects() Shape  { return ShapeAck }
func (Delete) Expects() Shape  { return ShapeAck }
func (Options) Expects() Shape { return ShapeAck }

func (Get) command()     {}
func (Put) command()     {}
func (Update) command()  {}
func (Delete) command()  {}
func (Options) command() {}

// Response is a server-to-client reply. Implementations: GetResult, AckResult.
type Response interface {
	StatusCode() string
	OK() bool
	Shape() Shape
	response()
}

type GetResult struct {
	Status string
	Value  map[string][]byte
}

type AckResult struct {
	Status string
}

func (r GetResult) StatusCode() string { return r.Status }
func (r AckResult) StatusCode() string { return r.Status }

func (r GetResult) OK() bool { return r.Status == StatusOK }
func (r AckResult) OK() bool { return r.Status == StatusOK }

func (GetResult) Shape() Shape { return ShapeGet }
func (AckResult) Shape() Shape { return ShapeAck }

func (GetResult) response() {}
func (AckResult) response() {}
