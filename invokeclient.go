package signalr

import (
	"sort"
	"strconv"
	"time"
)

// InvokeResult is the combined value/error result for async invocations. Used as channel type.
type InvokeResult struct {
	Value interface{}
	Error error
}

type pendingInvocation struct {
	id         string
	method     string
	completion func(InvokeResult)
	timer      *time.Timer
}

// complete hands the result to the Dispatcher. It must only be called by the one
// who removed the invocation from the invokeClient.
func (p *pendingInvocation) complete(dispatcher Dispatcher, result InvokeResult) {
	if p.timer != nil {
		p.timer.Stop()
	}
	completion := p.completion
	dispatcher.Dispatch(func() {
		completion(result)
	})
}

// invokeClient is the table of invocations waiting for their completion.
// It is not safe for concurrent use, the client guards it together with its state.
type invokeClient struct {
	lastID  int64
	pending map[string]*pendingInvocation
}

func newInvokeClient() invokeClient {
	return invokeClient{
		lastID:  -1,
		pending: make(map[string]*pendingInvocation),
	}
}

func (i *invokeClient) newInvocation(method string, completion func(InvokeResult)) *pendingInvocation {
	i.lastID++
	p := &pendingInvocation{
		id:         strconv.FormatInt(i.lastID, 10),
		method:     method,
		completion: completion,
	}
	i.pending[p.id] = p
	return p
}

// take removes the invocation with id from the table.
func (i *invokeClient) take(id string) (*pendingInvocation, bool) {
	p, ok := i.pending[id]
	if ok {
		delete(i.pending, id)
	}
	return p, ok
}

// takeAll empties the table and returns the invocations in the order they were created
func (i *invokeClient) takeAll() []*pendingInvocation {
	all := make([]*pendingInvocation, 0, len(i.pending))
	for _, p := range i.pending {
		all = append(all, p)
	}
	i.pending = make(map[string]*pendingInvocation)
	sortByCreation(all)
	return all
}

func (i *invokeClient) len() int {
	return len(i.pending)
}

func sortByCreation(invocations []*pendingInvocation) {
	// ids are ascending numbers
	sort.Slice(invocations, func(a, b int) bool {
		idA, _ := strconv.ParseInt(invocations[a].id, 10, 64)
		idB, _ := strconv.ParseInt(invocations[b].id, 10, 64)
		return idA < idB
	})
}
