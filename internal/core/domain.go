package core

import (
	"errors"
	"strings"
	"time"
)

type (
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Expense is a shared cost fronted by one participant and divided
	// equally among SplitWith. Expenses are immutable once recorded:
	// they are created and deleted, never updated in place.
	Expense struct {
		ID        string
		Title     string
		Amount    Money
		Date      Date
		PaidBy    Participant
		SplitWith []Participant
		CreatedAt time.Time
	}

	// Friend is an address-book entry of the owning user. The Handle is
	// the friend's payment handle ($cashtag, @venmoname or a PromptPay
	// id) and may be empty.
	Friend struct {
		ID        string
		Name      string
		Handle    string
		CreatedAt time.Time
	}

	// User is an authenticated account. Friends are plain names scoped
	// to a user, not accounts of their own.
	User struct {
		ID           string
		Email        string
		PasswordHash string
		DisplayName  string
		CreatedAt    time.Time
	}

	// RecurringExpense materializes into a real Expense once a month on
	// DayOfMonth. LastRun is zero until the first materialization.
	RecurringExpense struct {
		ID         string
		Title      string
		Amount     Money
		PaidBy     Participant
		SplitWith  []Participant
		DayOfMonth int
		Active     bool
		LastRun    Date
		CreatedAt  time.Time
	}
)

var (
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmptyTitle           = errors.New("empty title")
	ErrTitleTooLong         = errors.New("title too long (max 200 characters)")
	ErrEmptySplit           = errors.New("split participants missing")
	ErrEmptyParticipant     = errors.New("empty participant name")
	ErrDuplicateParticipant = errors.New("duplicate participant in split")
	ErrEmptyFriendName      = errors.New("empty friend name")
	ErrReservedFriendName   = errors.New("friend name is reserved")
	ErrInvalidDayOfMonth    = errors.New("day of month must be between 1 and 28")
)

const dateLayout = "2006-01-02"

// NewDate creates a Date from year, month and day. The time component is
// always midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// Today returns the current calendar date in UTC.
func Today() Date {
	now := time.Now().UTC()
	return NewDate(now.Year(), int(now.Month()), now.Day())
}

// ParseDate parses the YYYY-MM-DD form used on the wire and in storage.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as 1-12.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

// SameMonth reports whether both dates fall in the same year and month.
func (d Date) SameMonth(other Date) bool {
	return d.Year() == other.Year() && d.Month() == other.Month()
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(e.Title) > 200 {
		return ErrTitleTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if err := e.PaidBy.Validate(); err != nil {
		return err
	}
	if len(e.SplitWith) == 0 {
		return ErrEmptySplit
	}
	return validateSplit(e.SplitWith)
}

func validateSplit(split []Participant) error {
	seen := make(map[Participant]struct{}, len(split))
	for _, p := range split {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p]; dup {
			return ErrDuplicateParticipant
		}
		seen[p] = struct{}{}
	}
	return nil
}

func (f Friend) Validate() error {
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return ErrEmptyFriendName
	}
	if name == SelfAlias {
		return ErrReservedFriendName
	}
	if len(name) > 100 {
		return errors.New("friend name too long (max 100 characters)")
	}
	return nil
}

func (re RecurringExpense) Validate() error {
	if len(strings.TrimSpace(re.Title)) == 0 {
		return ErrEmptyTitle
	}
	if len(re.Title) > 200 {
		return ErrTitleTooLong
	}
	if err := re.Amount.Validate(); err != nil {
		return err
	}
	if err := re.PaidBy.Validate(); err != nil {
		return err
	}
	if len(re.SplitWith) == 0 {
		return ErrEmptySplit
	}
	if err := validateSplit(re.SplitWith); err != nil {
		return err
	}
	// Capped at 28 so every rule fires in February too.
	if re.DayOfMonth < 1 || re.DayOfMonth > 28 {
		return ErrInvalidDayOfMonth
	}
	return nil
}
