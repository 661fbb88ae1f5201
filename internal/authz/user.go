package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/netsblox/cloud-go/internal/auth"
	"github.com/netsblox/cloud-go/internal/errs"
	"github.com/netsblox/cloud-go/internal/user"
)

// ViewUser authorizes reading an account.
type ViewUser struct {
	target *user.User
}

// Target returns the account the witness was minted for.
func (w *ViewUser) Target() *user.User { return w.target }

// EditUser authorizes mutating an account or acting on its behalf.
type EditUser struct {
	target *user.User
}

func (w *EditUser) Target() *user.User { return w.target }

// ListUsers authorizes enumerating every account.
type ListUsers struct {
	username string
}

func (w *ListUsers) Username() string { return w.username }

// BanUser authorizes banning and unbanning an account.
type BanUser struct {
	target *user.User
}

func (w *BanUser) Target() *user.User { return w.target }

// SetPassword authorizes changing an account's password.
type SetPassword struct {
	username string
}

func (w *SetPassword) Username() string { return w.username }

// SetPasswordToken authorizes issuing a password reset token. Minted only
// for authorized service hosts.
type SetPasswordToken struct {
	host string
}

func (w *SetPasswordToken) Host() string { return w.host }

// CreateUser authorizes creating an account with the given role and group.
type CreateUser struct {
	role    user.Role
	groupID *uuid.UUID
}

func (w *CreateUser) Role() user.Role     { return w.role }
func (w *CreateUser) GroupID() *uuid.UUID { return w.groupID }

// TryViewUser mints a view witness. Viewing follows the edit predicate.
func (a *Authorizer) TryViewUser(ctx context.Context, r *auth.Requester, username string) (*ViewUser, error) {
	ew, err := a.TryEditUser(ctx, r, username)
	if err != nil {
		return nil, err
	}
	return &ViewUser{target: ew.target}, nil
}

// TryEditUser mints an edit witness for the target account.
func (a *Authorizer) TryEditUser(ctx context.Context, r *auth.Requester, username string) (*EditUser, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	target, err := a.users.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	ok, err := a.canEditUser(ctx, r, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.KindPermissions)
	}
	return &EditUser{target: target}, nil
}

// TryListUsers mints a witness for enumerating accounts. Admin only.
func (a *Authorizer) TryListUsers(r *auth.Requester) (*ListUsers, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	if !r.IsAdmin() {
		return nil, errs.New(errs.KindPermissions)
	}
	return &ListUsers{username: r.Username}, nil
}

// TryBanUser mints a ban witness: moderators, admins, and the owner of the
// target's group. Nobody bans themselves.
func (a *Authorizer) TryBanUser(ctx context.Context, r *auth.Requester, username string) (*BanUser, error) {
	if err := requireLogin(r); err != nil {
		return nil, err
	}
	if r.Username == username {
		return nil, errs.New(errs.KindPermissions)
	}
	target, err := a.users.ByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	ok, err := a.canEditUser(ctx, r, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.KindPermissions)
	}
	return &BanUser{target: target}, nil
}

// TrySetPassword mints a password-change witness following the edit
// predicate.
func (a *Authorizer) TrySetPassword(ctx context.Context, r *auth.Requester, username string) (*SetPassword, error) {
	ew, err := a.TryEditUser(ctx, r, username)
	if err != nil {
		return nil, err
	}
	return &SetPassword{username: ew.target.Username}, nil
}

// TrySetPasswordToken mints a reset-token witness for an authorized host.
func (a *Authorizer) TrySetPasswordToken(host *auth.Host) (*SetPasswordToken, error) {
	if host == nil {
		return nil, errs.New(errs.KindPermissions)
	}
	return &SetPasswordToken{host: host.ID}, nil
}

// TryCreateUser mints a creation witness. Anyone may self-register a plain
// account; creating a privileged role requires a strictly higher role, and
// placing the account in a group requires owning that group.
func (a *Authorizer) TryCreateUser(ctx context.Context, r *auth.Requester, role user.Role, groupID *uuid.UUID) (*CreateUser, error) {
	if role == "" {
		role = user.RoleUser
	}
	if role != user.RoleUser {
		if err := requireLogin(r); err != nil {
			return nil, err
		}
		if !r.IsAdmin() {
			return nil, errs.New(errs.KindPermissions)
		}
	}

	if groupID != nil {
		if err := requireLogin(r); err != nil {
			return nil, err
		}
		owner, err := a.groups.OwnerOf(ctx, *groupID)
		if err != nil {
			return nil, err
		}
		if owner != r.Username && !r.IsAdmin() {
			return nil, errs.New(errs.KindPermissions)
		}
	}
	return &CreateUser{role: role, groupID: groupID}, nil
}
