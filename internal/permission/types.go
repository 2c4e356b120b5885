package permission

import (
	"errors"
	"sync"

	"winkdrops/internal/eventbus"
	"winkdrops/internal/platform"
	logx "winkdrops/pkg/logx"
)

type State string

const (
	Unrequested         State = "unrequested"
	Requesting          State = "requesting"
	GrantedSubscribed   State = "granted_subscribed"
	GrantedUnsubscribed State = "granted_unsubscribed"
	Denied              State = "denied"
)

// States lists every state (metrics labels).
var States = []State{Unrequested, Requesting, GrantedSubscribed, GrantedUnsubscribed, Denied}

var (
	ErrUnsupported = errors.New("push notifications not supported")
	ErrBlocked     = errors.New("notification permission blocked")
	ErrNotGranted  = errors.New("notification permission not granted")
	ErrInProgress  = errors.New("subscribe already in progress")
)

// Change is the payload of eventbus.PermissionChanged.
type Change struct {
	From State
	To   State
}

// Controller tracks platform permission and push subscription status. State
// is never persisted; Refresh re-derives it from the platform.
type Controller struct {
	p         platform.Platform
	publicKey string
	log       logx.Logger
	bus       eventbus.Bus

	mu          sync.Mutex
	state       State
	perm        platform.Permission
	token       string
	unsupported bool
}
