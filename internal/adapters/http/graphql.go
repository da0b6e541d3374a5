package http

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/georef/internal/pkg/geospatial"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"session_id": &graphql.Field{Type: graphql.String},
			"has_raw":    &graphql.Field{Type: graphql.Boolean},
			"has_ref":    &graphql.Field{Type: graphql.Boolean},
			"raw_count":  &graphql.Field{Type: graphql.Int},
			"ref_count":  &graphql.Field{Type: graphql.Int},
		},
	})

	fitType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Fit",
		Fields: graphql.Fields{
			"scale":        &graphql.Field{Type: graphql.Float},
			"rotation_deg": &graphql.Field{Type: graphql.Float},
			"tx":           &graphql.Field{Type: graphql.Float},
			"ty":           &graphql.Field{Type: graphql.Float},
			"rmse":         &graphql.Field{Type: graphql.Float},
			"max_residual": &graphql.Field{Type: graphql.Float},
			"rmse_meters":  &graphql.Field{Type: graphql.Float},
			"residuals":    &graphql.Field{Type: graphql.NewList(graphql.Float)},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Get what a session holds",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(string)
					return deps.Georef.Info(p.Context, id)
				},
			},
			"fit": &graphql.Field{
				Type:        fitType,
				Description: "Fit a similarity to control points given as [sx, sy, tx, ty]",
				Args: graphql.FieldConfigArgument{
					"pairs": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.Float))))),
					},
					"reference_frame": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pairs, err := graphqlPairs(p.Args["pairs"])
					if err != nil {
						return nil, err
					}
					frame, _ := p.Args["reference_frame"].(string)
					res, err := deps.Georef.Fit(p.Context, pairs, frame)
					if err != nil {
						return nil, err
					}
					out := map[string]interface{}{
						"scale":        res.Model.Scale,
						"rotation_deg": res.Rotation,
						"tx":           res.Model.Translation[0],
						"ty":           res.Model.Translation[1],
						"rmse":         res.Residuals.RMSE,
						"max_residual": res.Residuals.Max,
						"residuals":    res.Residuals.Residuals,
					}
					if res.RMSEMeters != nil {
						out["rmse_meters"] = *res.RMSEMeters
					}
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func graphqlPairs(arg interface{}) ([]geospatial.PointPair, error) {
	rows, ok := arg.([]interface{})
	if !ok {
		return nil, errors.New("pairs must be a list")
	}
	pairs := make([]geospatial.PointPair, 0, len(rows))
	for i, row := range rows {
		vals, ok := row.([]interface{})
		if !ok || len(vals) != 4 {
			return nil, fmt.Errorf("pair %d must be [sx, sy, tx, ty]", i)
		}
		var f [4]float64
		for j, v := range vals {
			x, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("pair %d: coordinate %d is not a number", i, j)
			}
			f[j] = x
		}
		pairs = append(pairs, geospatial.PointPair{
			Source: [2]float64{f[0], f[1]},
			Target: [2]float64{f[2], f[3]},
		})
	}
	return pairs, nil
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
