package mocktest

import (
	"errors"
	"time"
)

type Year string

const (
	YearFirst  Year = "FIRST"
	YearSecond Year = "SECOND"
)

var (
	ErrNoQuestionsAvailable = errors.New("no questions available for the selected filters")
	ErrPaperNotFound        = errors.New("paper not found")
	ErrAlreadySubmitted     = errors.New("paper already submitted")
	ErrNotStarted           = errors.New("paper not started")
	ErrTimeUp               = errors.New("paper time is up")
	ErrNotOwner             = errors.New("paper belongs to another user")
	ErrInvalidQuestion      = errors.New("invalid question")
	ErrInvalidRequest       = errors.New("invalid request")
)

// Question is one question bank entry.
type Question struct {
	ID            string   `json:"$id,omitempty"`
	Text          string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"min=2,max=6,dive,required"`
	CorrectAnswer string   `json:"correctAnswer" validate:"required,oneof=A B C D E F"`
	TradeID       string   `json:"tradeId" validate:"required"`
	SubjectID     string   `json:"subjectId" validate:"required"`
	ModuleID      string   `json:"moduleId" validate:"required"`
	Year          Year     `json:"year" validate:"required,oneof=FIRST SECOND"`
	Tags          []string `json:"tags,omitempty"`
	Images        []string `json:"images,omitempty"`
	UserID        string   `json:"userId,omitempty"`
	UserName      string   `json:"userName,omitempty"`
}

// Snapshot is a question frozen into a paper. Attempts only carry ID and
// Response; the body lives on the original paper.
type Snapshot struct {
	ID            string   `json:"id"`
	Text          string   `json:"question,omitempty"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	SubjectID     string   `json:"subjectId,omitempty"`
	ModuleID      string   `json:"moduleId,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Images        []string `json:"images,omitempty"`
	Response      *string  `json:"response"`
}

// Paper is either the answer key of a generated test (IsOriginal) or one
// user's attempt at it.
type Paper struct {
	DocumentID     string     `json:"$id,omitempty"`
	PaperID        string     `json:"paperId"`
	TradeID        string     `json:"tradeId"`
	TradeName      string     `json:"tradeName"`
	Year           Year       `json:"year"`
	Questions      []Snapshot `json:"questions"`
	TotalQuestions int        `json:"totalQuestions"`
	TotalMinutes   int        `json:"totalMinutes"`
	UserID         *string    `json:"userId"`
	UserName       *string    `json:"userName"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	CreatedByName  string     `json:"createdByName,omitempty"`
	Score          *int       `json:"score"`
	Submitted      bool       `json:"submitted"`
	StartTime      *time.Time `json:"startTime"`
	EndTime        *time.Time `json:"endTime"`
	IsOriginal     bool       `json:"isOriginal"`
	IsProtected    bool       `json:"isProtected"`
}

func (p Paper) ownedBy(userID string) bool {
	return !p.IsOriginal && p.UserID != nil && *p.UserID == userID
}

// Response is one answer selection sent by the test taker.
type Response struct {
	QuestionID     string  `json:"questionId" validate:"required"`
	SelectedAnswer *string `json:"selectedAnswer"`
}

// Viewer identifies who is reading a paper. Privileged viewers (teachers,
// admins) may see answer keys and other users' attempts.
type Viewer struct {
	UserID     string
	Privileged bool
}

// Remaining is the time left of an attempt started at start with the given
// budget, never negative.
func Remaining(start time.Time, totalMinutes int, now time.Time) time.Duration {
	left := start.Add(time.Duration(totalMinutes) * time.Minute).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
