package service

// State is a step of the answering state machine.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateRetrieving   State = "RETRIEVING"
	StateExtracting   State = "EXTRACTING"
	StateDeciding     State = "DECIDING"
	StateFetching     State = "FETCHING"
	StateReRetrieving State = "RE-RETRIEVING"
	StateReExtracting State = "RE-EXTRACTING"
	StateReDeciding   State = "RE-DECIDING"
	StateAnswered     State = "ANSWERED"
	StateUnanswered   State = "UNANSWERED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == StateAnswered || s == StateUnanswered }

// Outcome is the terminal result of a request.
type Outcome string

const (
	OutcomeAnswered   Outcome = "answered"
	OutcomeUnanswered Outcome = "unanswered"
)

// phase selects the state names of the first attempt or the retry after
// the fallback fetch.
type phase struct {
	retrieving State
	extracting State
	deciding   State
}

var (
	firstPhase = phase{StateRetrieving, StateExtracting, StateDeciding}
	retryPhase = phase{StateReRetrieving, StateReExtracting, StateReDeciding}
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateReceived:     {StateRetrieving},
	StateRetrieving:   {StateExtracting, StateFetching, StateUnanswered},
	StateExtracting:   {StateDeciding},
	StateDeciding:     {StateAnswered, StateFetching, StateUnanswered},
	StateFetching:     {StateReRetrieving},
	StateReRetrieving: {StateReExtracting, StateUnanswered},
	StateReExtracting: {StateReDeciding},
	StateReDeciding:   {StateAnswered, StateUnanswered},
}

// CanTransition reports whether to may follow from.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
