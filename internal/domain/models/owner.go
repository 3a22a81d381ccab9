// Package models defines the domain models for the credential core.
// This file contains the owner reference shared by keys, tokens and sessions.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
)

// OwnerRef identifies the tenant or application under which key material and
// sessions are scoped. It is a tagged variant: Kind selects the arm, ID names it.
// OwnerRef 标识密钥材料和会话所属的租户或应用。
// 它是一个带标签的变体：Kind 选择分支，ID 为其命名。
type OwnerRef struct {
	// Kind is either tenant or application.
	// Kind 为 tenant 或 application。
	Kind constants.OwnerKind `json:"kind"`
	// ID is the owner identifier, unique within its kind.
	// ID 是所有者标识符，在同类中唯一。
	ID string `json:"id"`
}

// Tenant returns the owner reference of a top-level tenant.
func Tenant(id string) OwnerRef {
	return OwnerRef{Kind: constants.OwnerKindTenant, ID: id}
}

// Application returns the owner reference of an application beneath a tenant.
func Application(id string) OwnerRef {
	return OwnerRef{Kind: constants.OwnerKindApplication, ID: id}
}

// NewOwnerRef builds and validates an owner reference from its parts.
func NewOwnerRef(kind, id string) (OwnerRef, error) {
	o := OwnerRef{Kind: constants.OwnerKind(strings.ToLower(strings.TrimSpace(kind))), ID: strings.TrimSpace(id)}
	if err := o.Validate(); err != nil {
		return OwnerRef{}, err
	}
	return o, nil
}

// ParseOwnerRef parses the textual form "<kind>:<id>", e.g. "tenant:42".
func ParseOwnerRef(s string) (OwnerRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return OwnerRef{}, errors.ErrInvalidArgument("owner", fmt.Sprintf("%q is not of the form <kind>:<id>", s))
	}
	return NewOwnerRef(kind, id)
}

// Validate checks that the kind is known and the id is present.
func (o OwnerRef) Validate() error {
	switch o.Kind {
	case constants.OwnerKindTenant, constants.OwnerKindApplication:
	default:
		return errors.ErrInvalidArgument("owner.kind", fmt.Sprintf("unknown owner kind %q", o.Kind))
	}
	if o.ID == "" {
		return errors.ErrInvalidArgument("owner.id", "must not be empty")
	}
	return nil
}

// IsZero reports whether the reference is unset.
func (o OwnerRef) IsZero() bool {
	return o.Kind == "" && o.ID == ""
}

// String renders the reference as "<kind>:<id>".
func (o OwnerRef) String() string {
	return string(o.Kind) + ":" + o.ID
}

// Issuer is the iss claim for tokens signed with this owner's keys.
func (o OwnerRef) Issuer() string {
	return "issuer:" + string(o.Kind) + ":" + o.ID
}

// DefaultAudience is used when a token is requested without an audience.
func (o OwnerRef) DefaultAudience() string {
	return o.ID
}

// Owner is the persisted owner row. It anchors the per-owner lock taken by
// provisioning and rotation, and deleting it cascades to keys and sessions.
// Owner 是持久化的所有者记录，作为密钥供应和轮换的行锁锚点。
type Owner struct {
	Kind      constants.OwnerKind `gorm:"primaryKey;column:kind"`
	ID        string              `gorm:"primaryKey;column:id"`
	Issuer    string              `gorm:"column:issuer"`
	CreatedAt time.Time           `gorm:"column:created_at"`
}

// TableName overrides the gorm table name.
func (Owner) TableName() string { return "owners" }

// Ref returns the owner reference of the row.
func (o *Owner) Ref() OwnerRef {
	return OwnerRef{Kind: o.Kind, ID: o.ID}
}
