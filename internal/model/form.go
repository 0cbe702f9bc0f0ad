package model

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Form is the addressable target of submissions.
//
// When a form is created by a spontaneous submission it carries a
// Host, an Email and a Hash made of those two plus the nonce secret.
// Hash is unique because it is the lookup key when the form gets
// confirmed and whenever a new submission arrives.
//
// When an account creates a form from the dashboard it gets an Email
// and an OwnerID instead. Hash is never set on those forms because it
// could collide with a spontaneous form for the same email and host.
type Form struct {
	ID              uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Hash            *string   `json:"hash,omitempty" gorm:"type:varchar(32);uniqueIndex"`
	Name            string    `json:"name" gorm:"type:varchar(255)"`
	Email           string    `json:"email" gorm:"type:varchar(120);not null;index"`
	Host            *string   `json:"host,omitempty" gorm:"type:varchar(300);index"`
	Confirmed       bool      `json:"confirmed"`
	ConfirmSent     bool      `json:"confirm_sent"`
	Counter         int       `json:"counter"`
	Disabled        bool      `json:"disabled"`
	DisableEmail    bool      `json:"disable_email"`
	DisableStorage  bool      `json:"disable_storage"`
	CaptchaDisabled bool      `json:"captcha_disabled"`
	APIKey          *string   `json:"apikey,omitempty" gorm:"type:varchar(64)"`
	OwnerID         *uint     `json:"owner_id,omitempty" gorm:"index"`
	CreatedAt       time.Time `json:"created_at"`

	Submissions  []Submission  `json:"-" gorm:"foreignKey:FormID;constraint:OnDelete:CASCADE"`
	Plugins      []Plugin      `json:"-" gorm:"foreignKey:FormID;constraint:OnDelete:CASCADE"`
	RoutingRules []RoutingRule `json:"-" gorm:"foreignKey:FormID;constraint:OnDelete:CASCADE"`
	Template     *EmailTemplate `json:"-" gorm:"foreignKey:FormID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Form
func (Form) TableName() string {
	return "forms"
}

// FormHash derives the unique digest identifying a spontaneous form
// by its (email, host) pair. The secret keys the digest so hashes
// can't be forged from known addresses.
func FormHash(email, host string, nonceSecret []byte) string {
	sum := md5.Sum(append([]byte(email+host), nonceSecret...))
	return hex.EncodeToString(sum[:])
}

// APIKeyReadonly derives the read-only key from the read-write one
func (f *Form) APIKeyReadonly() string {
	if f.APIKey == nil {
		return ""
	}
	sum := sha256.Sum256([]byte(*f.APIKey))
	return hex.EncodeToString(sum[:])
}

// UnconfirmDigest authenticates unsubscribe links for this form
func (f *Form) UnconfirmDigest(nonceSecret []byte) string {
	mac := hmac.New(sha256.New, nonceSecret)
	fmt.Fprintf(mac, "id=%d", f.ID)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckUnconfirmDigest verifies an unsubscribe digest in constant time
func (f *Form) CheckUnconfirmDigest(digest string, nonceSecret []byte) bool {
	return hmac.Equal([]byte(f.UnconfirmDigest(nonceSecret)), []byte(digest))
}
