package model

import "time"

// Conversation はユーザーと教材チューターの会話を表す私有リソース。
// OwnerIdentityIDの境界を越える読み書きはownershipポリシーで禁止される。
type Conversation struct {
	ID              string
	OwnerIdentityID string
	Title           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MessageSender はメッセージの送信者種別を表す。
type MessageSender string

const (
	// SenderLearner は学習者本人の発言。
	SenderLearner MessageSender = "learner"
	// SenderTutor はチューター側の応答。
	SenderTutor MessageSender = "tutor"
)

// Message は会話内の1発言を表す私有リソース。
// Bodyは保存前にサニタイズ済みのHTMLを保持する。
type Message struct {
	ID              string
	ConversationID  string
	OwnerIdentityID string
	Sender          MessageSender
	Body            string
	CreatedAt       time.Time
}

// Progress はレッスンごとの学習進捗を表す私有リソース。
// (OwnerIdentityID, LessonID)で一意。
type Progress struct {
	OwnerIdentityID string
	LessonID        string
	Completed       bool
	Score           int
	UpdatedAt       time.Time
}
