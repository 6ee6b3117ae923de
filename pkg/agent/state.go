package agent

import "strings"

// State is a node of the orchestrator state machine
type State int

const (
	StateThink State = iota
	StateAct
	StateError
	StateDone
)

func (s State) String() string {
	switch s {
	case StateThink:
		return "think"
	case StateAct:
		return "act"
	case StateError:
		return "error"
	default:
		return "done"
	}
}

// ToolStatus is the outcome of a tool invocation
type ToolStatus string

const (
	ToolPending     ToolStatus = "pending"
	ToolSuccess     ToolStatus = "success"
	ToolFailed      ToolStatus = "error"
	ToolUnsupported ToolStatus = "unsupported"
)

// ToolInvocation is the tool call the orchestrator is about to run or just ran
type ToolInvocation struct {
	Name      string
	Arguments map[string]interface{}
	Result    string
	Status    ToolStatus

	// CallID is set only for provider-native tool calls
	CallID string
}

// RunState is the scratch state of a single Run
type RunState struct {
	State       State
	Messages    []Message
	Pending     *ToolInvocation
	Issues      []string
	FinalAnswer *string
	Iterations  int
}

func newRunState(history []Message, input Input) *RunState {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)

	text := strings.TrimSpace(input.Text)
	if text == "" && input.HasImage() {
		text = DefaultImagePrompt
	}

	user := Message{Role: RoleUser, Content: text}
	if input.HasImage() {
		user.Image = input.Image
	}
	messages = append(messages, user)

	return &RunState{State: StateThink, Messages: messages}
}

func (rs *RunState) addIssue(issue string) {
	rs.Issues = append(rs.Issues, issue)
}

func (rs *RunState) finish(answer string) {
	rs.FinalAnswer = &answer
	rs.State = StateDone
}

func (rs *RunState) answer() string {
	if rs.FinalAnswer == nil {
		return ""
	}
	return *rs.FinalAnswer
}
