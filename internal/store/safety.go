package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CheckRemovable is the safety predicate gating every destructive operation.
//
// The target must be a proper descendant of the store root after
// canonicalization. When the root was overridden to a location outside the
// caller's home directory, any proper descendant may be removed. Otherwise
// removal is restricted to session directories (sessions/<id> and below) and
// team leaves (<project>/<team> and below); anything shallower is refused.
func (p *Paths) CheckRemovable(target string) error {
	rel, ok := relUnder(p.root, target)
	if !ok {
		return fmt.Errorf("%w: %s is not inside store root %s", ErrSafetyViolation, target, p.root)
	}
	if p.relaxed() {
		return nil
	}

	parts := strings.Split(rel, string(filepath.Separator))
	switch parts[0] {
	case sessionsDirName:
		if len(parts) < 2 {
			return fmt.Errorf("%w: refusing to remove %s (entire session store)", ErrSafetyViolation, target)
		}
	case logsDirName:
		return fmt.Errorf("%w: refusing to remove %s (log directory)", ErrSafetyViolation, target)
	default:
		// Project subtree: the <project>/<team> leaf is the smallest unit.
		if len(parts) < 2 {
			return fmt.Errorf("%w: refusing to remove %s (entire project)", ErrSafetyViolation, target)
		}
	}
	return nil
}

// relaxed reports whether the root override places the store outside the
// caller's home directory, where test roots live.
func (p *Paths) relaxed() bool {
	if !p.overridden {
		return false
	}
	if p.home == "" {
		return true
	}
	_, underHome := relUnder(p.home, p.root)
	return !underHome
}
