package notify

import "time"

// Purpose names the template a message renders with.
type Purpose string

const (
	PurposeEmailVerification  Purpose = "email-verification"
	PurposePasswordReset      Purpose = "password-reset"
	PurposePasswordlessLogin  Purpose = "passwordless-login"
	PurposeSubnetApproval     Purpose = "subnet-approval"
	PurposeMergeRequest       Purpose = "merge-request"
	PurposePasswordChanged    Purpose = "password-changed"
	PurposeAccountDeactivated Purpose = "account-deactivated"
)

// Message is one outbound notification. Each concrete type carries exactly
// the fields its template reads.
type Message interface {
	Purpose() Purpose
}

// actionMessage is implemented by messages that carry a single-use token the
// recipient clicks through.
type actionMessage interface {
	Message
	actionToken() string
}

type EmailVerification struct {
	Name      string
	Token     string
	ExpiresIn time.Duration
}

func (EmailVerification) Purpose() Purpose      { return PurposeEmailVerification }
func (m EmailVerification) actionToken() string { return m.Token }

type PasswordReset struct {
	Name      string
	Token     string
	ExpiresIn time.Duration
}

func (PasswordReset) Purpose() Purpose      { return PurposePasswordReset }
func (m PasswordReset) actionToken() string { return m.Token }

type PasswordlessLogin struct {
	Name      string
	Token     string
	ExpiresIn time.Duration
}

func (PasswordlessLogin) Purpose() Purpose      { return PurposePasswordlessLogin }
func (m PasswordlessLogin) actionToken() string { return m.Token }

// SubnetApproval asks the owner to confirm a login from a network not seen
// before for the account.
type SubnetApproval struct {
	Name      string
	Token     string
	IP        string
	Subnet    string
	UserAgent string
	ExpiresIn time.Duration
}

func (SubnetApproval) Purpose() Purpose      { return PurposeSubnetApproval }
func (m SubnetApproval) actionToken() string { return m.Token }

// MergeRequest is sent to the source address; clicking it folds that account
// into the destination.
type MergeRequest struct {
	SourceEmail     string
	DestinationName string
	Token           string
	ExpiresIn       time.Duration
}

func (MergeRequest) Purpose() Purpose      { return PurposeMergeRequest }
func (m MergeRequest) actionToken() string { return m.Token }

type PasswordChanged struct {
	Name string
}

func (PasswordChanged) Purpose() Purpose { return PurposePasswordChanged }

type AccountDeactivated struct {
	Name       string
	MergedInto string
}

func (AccountDeactivated) Purpose() Purpose { return PurposeAccountDeactivated }
