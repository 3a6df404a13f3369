package models

// DefaultRating is assigned to profiles without a stored rating.
const DefaultRating = 1000

// MinRating is the floor below which a rating never drops.
const MinRating = 100

// User is the slice of the external identity/profile store this service reads and writes.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	Rating int `json:"rating"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// Problem is the read-only view of a problem that clients receive.
type Problem struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Difficulty Difficulty `json:"difficulty"`
	Statement  string     `json:"statement"`
	Examples   []TestCase `json:"examples,omitempty"`
}

// TestCase is one input/expected-output pair fed to the execution service.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}
