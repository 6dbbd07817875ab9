package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/seastead-tech/pelorus/core/csql"
	"github.com/seastead-tech/pelorus/core/schema"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresTestSuite runs the Documents contract against a real postgres
// in a container. Run with -short to skip it.
type PostgresTestSuite struct {
	suite.Suite
	container testcontainers.Container
	db        *csql.DB
	docs      *Postgres
}

func TestPostgresTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	suite.Run(t, new(PostgresTestSuite))
}

func (s *PostgresTestSuite) SetupSuite() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "5432")
	s.Require().NoError(err)

	s.db = csql.OpenWithSchema(fmt.Sprintf(
		"host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable",
		host, port.Port()), "pelorus_test")

	registry, err := schema.New(registryConfig)
	s.Require().NoError(err)
	s.docs = NewPostgres(s.db, registry)
}

func (s *PostgresTestSuite) TearDownSuite() {
	if s.db != nil {
		s.db.ClearSchema()
		s.db.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *PostgresTestSuite) save(name string) uuid.UUID {
	id := uuid.New()
	err := s.docs.Save(context.Background(), "book", id, map[string]interface{}{
		"uuid": id.String(),
		"name": name,
	})
	s.Require().NoError(err)
	return id
}

func (s *PostgresTestSuite) TestSaveFindDelete() {
	ctx := context.Background()

	id := s.save(s.T().Name())

	document, found, err := s.docs.FindOne(ctx, "book", Filter{"uuid": id.String()})
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(s.T().Name(), document["name"])

	// upsert replaces the document
	err = s.docs.Save(ctx, "book", id, map[string]interface{}{
		"uuid": id.String(),
		"name": s.T().Name() + " revised",
	})
	s.Require().NoError(err)

	document, found, err = s.docs.FindOne(ctx, "book", Filter{"uuid": id.String()})
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(s.T().Name()+" revised", document["name"])

	s.Require().NoError(s.docs.Delete(ctx, "book", id))
	_, found, err = s.docs.FindOne(ctx, "book", Filter{"uuid": id.String()})
	s.Require().NoError(err)
	s.False(found)
}

func (s *PostgresTestSuite) TestFindKeepsInsertionOrder() {
	ctx := context.Background()

	first := s.save(s.T().Name() + " first")
	second := s.save(s.T().Name() + " second")

	documents, err := s.docs.Find(ctx, "book",
		Filter{"name": Regex{Pattern: "^" + s.T().Name()}})
	s.Require().NoError(err)
	s.Require().Len(documents, 2)
	s.Equal(first.String(), documents[0]["uuid"])
	s.Equal(second.String(), documents[1]["uuid"])
}

func (s *PostgresTestSuite) TestRegexFilter() {
	ctx := context.Background()

	s.save("Moby Dick " + s.T().Name())
	s.save("Dubliners " + s.T().Name())

	documents, err := s.docs.Find(ctx, "book",
		Filter{"name": Regex{Pattern: "moby.*" + s.T().Name(), CaseInsensitive: true}})
	s.Require().NoError(err)
	s.Require().Len(documents, 1)

	documents, err = s.docs.Find(ctx, "book",
		Filter{"name": Regex{Pattern: "moby.*" + s.T().Name()}})
	s.Require().NoError(err)
	s.Empty(documents)
}

func (s *PostgresTestSuite) TestCount() {
	ctx := context.Background()

	s.save(s.T().Name())
	s.save(s.T().Name())

	count, err := s.docs.Count(ctx, "book", Filter{"name": s.T().Name()})
	s.Require().NoError(err)
	s.Equal(2, count)
}
