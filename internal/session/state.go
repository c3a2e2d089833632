package session

import (
	"fmt"

	"github.com/hitoshi/moviestream/internal/model"
)

// State はセッションスロットのライフサイクル上の状態。
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateExpired         State = "expired"
	StateSignedOut       State = "signed_out"
)

// Event は状態遷移を引き起こすイベント。
type Event string

const (
	EventBeginAuthentication Event = "begin_authentication"
	EventAuthSucceeded       Event = "auth_succeeded"
	EventAuthFailed          Event = "auth_failed"
	EventExpiryObserved      Event = "expiry_observed"
	EventSignOut             Event = "sign_out"
)

// Transition はfromでeventが起きたときの遷移先を返す。
// サインアウトはどの状態からでも可能。Expired と SignedOut はそのトークンにとって終端で、
// Authenticatedに戻るには新しい認証イベントが必要。
func Transition(from State, event Event) (State, error) {
	if event == EventSignOut {
		return StateSignedOut, nil
	}

	switch from {
	case StateUnauthenticated, StateExpired, StateSignedOut, StateAuthenticated:
		if event == EventBeginAuthentication {
			return StateAuthenticating, nil
		}
		if from == StateAuthenticated && event == EventExpiryObserved {
			return StateExpired, nil
		}
	case StateAuthenticating:
		switch event {
		case EventAuthSucceeded:
			return StateAuthenticated, nil
		case EventAuthFailed:
			return StateUnauthenticated, nil
		}
	}

	return from, fmt.Errorf("invalid session transition: %s on %s", event, from)
}

// StateOfView は認可ビューに対応するライフサイクル上の状態を返す。
// 識別情報のみのセッションもAuthenticatedとして扱う。
func StateOfView(view model.AuthorizationView) State {
	switch view.State {
	case model.AuthStateAuthenticated, model.AuthStateAuthenticatedNoAuthorization:
		return StateAuthenticated
	case model.AuthStateExpired:
		return StateExpired
	case model.AuthStateSignedOut:
		return StateSignedOut
	default:
		return StateUnauthenticated
	}
}
