// Package lesson holds the lesson records shown to the learner, the system
// prompt built from them, and the video player collaborator that the
// assistant pauses and resumes.
package lesson

import (
	"fmt"
	"slices"
)

// Lesson is one video lesson. It is immutable for the duration of an
// assistant session.
type Lesson struct {
	ID         int    `yaml:"id"`
	Grade      string `yaml:"grade"`
	Subject    string `yaml:"subject"`
	Title      string `yaml:"title"`
	VideoID    string `yaml:"video_id"`
	Transcript string `yaml:"transcript"`
}

// Instructions renders the assistant's system prompt for l. The transcript is
// embedded verbatim.
func Instructions(l Lesson) string {
	return fmt.Sprintf(
		"You are a friendly and helpful teaching assistant for a %s student. "+
			"The student is watching a video titled '%s' about '%s'. "+
			"The transcript of the video is: \"%s\". "+
			"Your task is to clarify any doubts the student has. Start by greeting them warmly. "+
			"Answer their question concisely based on the video's context, but use your general knowledge "+
			"and perform a web search to provide a more complete and interesting answer that is age-appropriate. "+
			"If you use web search, your answer will be grounded in the search results. "+
			"Always keep your explanation simple and engaging for a child.",
		l.Grade, l.Title, l.Subject, l.Transcript,
	)
}

// Catalog is an ordered, read-only list of lessons.
type Catalog struct {
	lessons []Lesson
}

// NewCatalog copies lessons into a Catalog, keeping their order.
func NewCatalog(lessons []Lesson) *Catalog {
	return &Catalog{lessons: slices.Clone(lessons)}
}

// All returns a copy of every lesson.
func (c *Catalog) All() []Lesson {
	return slices.Clone(c.lessons)
}

// Len returns the number of lessons.
func (c *Catalog) Len() int { return len(c.lessons) }

// ByID returns the lesson with the given id.
func (c *Catalog) ByID(id int) (Lesson, bool) {
	i := slices.IndexFunc(c.lessons, func(l Lesson) bool { return l.ID == id })
	if i < 0 {
		return Lesson{}, false
	}
	return c.lessons[i], true
}
