package memory

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"sb-quiz-service/internal/domain"
)

//go:embed quizzes.yaml
var sampleQuizzesYAML []byte

// StaticQuizLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (l *StaticQuizLoader) LoadQuizzes(_ context.Context) ([]domain.Quiz, error) {
	quizzes := make([]domain.Quiz, 0, len(l.quizzes))
	for _, q := range l.quizzes {
		quizzes = append(quizzes, q)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ID < quizzes[j].ID })
	return quizzes, nil
}

type quizFile struct {
	Quizzes []domain.Quiz `yaml:"quizzes"`
}

// ParseQuizzes decodes and validates a YAML quiz catalog.
func ParseQuizzes(data []byte) (map[string]domain.Quiz, error) {
	var file quizFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode quizzes: %w", err)
	}
	quizzes := make(map[string]domain.Quiz, len(file.Quizzes))
	for _, q := range file.Quizzes {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		if _, dup := quizzes[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidQuiz, q.ID)
		}
		quizzes[q.ID] = q
	}
	return quizzes, nil
}

// LoadQuizFile reads a YAML quiz catalog from path.
func LoadQuizFile(path string) (map[string]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseQuizzes(data)
}

// SampleQuizzes returns the catalog shipped with the binary.
func SampleQuizzes() map[string]domain.Quiz {
	quizzes, err := ParseQuizzes(sampleQuizzesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded quizzes: %v", err))
	}
	return quizzes
}
