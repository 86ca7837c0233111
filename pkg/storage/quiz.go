// Quizzes are stored as flat documents. The single-tenant table keys a document on "Id" alone, while the
// multi-tenant table keys it on the owner's "email" plus a "quiz_id". Both variants store "name", "time" and
// "questions" next to the key, and the stored document is what the API echoes back.

package storage

import (
	"errors"
	"fmt"
)

var (
	ErrQuizNotFound  = errors.New("quiz was not found")
	ErrMalformedQuiz = errors.New("malformed quiz document")
)

// Tenancy selects between the two deployments of the API.
type Tenancy string

const (
	// SingleTenant keeps every quiz in one shared collection.
	SingleTenant Tenancy = "single"
	// MultiTenant scopes quizzes by the owner's email and requires bearer authentication.
	MultiTenant Tenancy = "multi"
)

// ParseTenancy validates a tenancy flag value.
func ParseTenancy(value string) (Tenancy, error) {
	switch Tenancy(value) {
	case SingleTenant, MultiTenant:
		return Tenancy(value), nil
	default:
		return "", fmt.Errorf("unknown tenancy %q; want %q or %q", value, SingleTenant, MultiTenant)
	}
}

// Key identifies one quiz. Owner is empty in the single-tenant variant.
type Key struct {
	Owner string
	ID    string
}

func (k Key) String() string {
	if k.Owner == "" {
		return k.ID
	}
	return k.Owner + "/" + k.ID
}

// Quiz is one stored quiz record.
type Quiz struct {
	Key
	Name      string
	Time      float64
	Questions []any // Arbitrary JSON values; never nil once normalized.
}

// Schema describes how quizzes of one tenancy are laid out in their table.
type Schema struct {
	Tenancy      Tenancy
	Table        string
	PartitionKey string
	SortKey      string // Empty for single-tenant tables.
}

const (
	fieldName      = "name"
	fieldTime      = "time"
	fieldQuestions = "questions"
)

// SchemaFor returns the document layout of the given tenancy stored in `table`. An empty table name picks the
// default table of the tenancy.
func SchemaFor(tenancy Tenancy, table string) Schema {
	switch tenancy {
	case MultiTenant:
		if table == "" {
			table = "l2w-quizlet-storage"
		}
		return Schema{Tenancy: MultiTenant, Table: table, PartitionKey: "email", SortKey: "quiz_id"}
	default:
		if table == "" {
			table = "l2w-quiz-storage"
		}
		return Schema{Tenancy: SingleTenant, Table: table, PartitionKey: "Id"}
	}
}

// KeyDocument returns the primary key attributes of `key`.
func (s Schema) KeyDocument(key Key) map[string]any {
	if s.SortKey == "" {
		return map[string]any{s.PartitionKey: key.ID}
	}
	return map[string]any{s.PartitionKey: key.Owner, s.SortKey: key.ID}
}

// Document returns the stored form of `quiz`, which is also the form served over HTTP.
func (s Schema) Document(quiz Quiz) map[string]any {
	doc := s.KeyDocument(quiz.Key)
	doc[fieldName] = quiz.Name
	doc[fieldTime] = quiz.Time
	questions := quiz.Questions
	if questions == nil {
		questions = []any{}
	}
	doc[fieldQuestions] = questions
	return doc
}

// FromDocument parses a stored document back into a Quiz. Missing optional fields take their zero value.
func (s Schema) FromDocument(doc map[string]any) (Quiz, error) {
	var quiz Quiz
	if s.SortKey == "" {
		id, ok := doc[s.PartitionKey].(string)
		if !ok || id == "" {
			return Quiz{}, fmt.Errorf("%w: missing %q", ErrMalformedQuiz, s.PartitionKey)
		}
		quiz.ID = id
	} else {
		owner, ok := doc[s.PartitionKey].(string)
		if !ok || owner == "" {
			return Quiz{}, fmt.Errorf("%w: missing %q", ErrMalformedQuiz, s.PartitionKey)
		}
		id, ok := doc[s.SortKey].(string)
		if !ok || id == "" {
			return Quiz{}, fmt.Errorf("%w: missing %q", ErrMalformedQuiz, s.SortKey)
		}
		quiz.Owner, quiz.ID = owner, id
	}

	if name, found := doc[fieldName]; found && name != nil {
		str, ok := name.(string)
		if !ok {
			return Quiz{}, fmt.Errorf("%w: %q is %T, not a string", ErrMalformedQuiz, fieldName, name)
		}
		quiz.Name = str
	}
	if value, found := doc[fieldTime]; found && value != nil {
		number, err := toFloat(value)
		if err != nil {
			return Quiz{}, fmt.Errorf("%w: %q: %w", ErrMalformedQuiz, fieldTime, err)
		}
		quiz.Time = number
	}
	quiz.Questions = []any{}
	if value, found := doc[fieldQuestions]; found && value != nil {
		list, ok := value.([]any)
		if !ok {
			return Quiz{}, fmt.Errorf("%w: %q is %T, not a list", ErrMalformedQuiz, fieldQuestions, value)
		}
		quiz.Questions = list
	}
	return quiz, nil
}

// toFloat accepts the numeric types produced by the JSON and DynamoDB decoders.
func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%T is not a number", value)
	}
}
