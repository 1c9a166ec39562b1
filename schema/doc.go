// Package schema provides payload validation for the mmate schema registry.
//
// The registry treats every shape check as an opaque Validator capability:
// given a value it either passes or returns an error describing what is
// wrong. Callers may plug in any implementation; this package also ships one.
//
// Key features:
//   - Validator capability interface with function and predicate adapters
//   - Shape: property-based validation (types, formats, ranges, enums, patterns)
//   - ShapeOf: derive a Shape from a Go struct's json tags
//   - ValidationError carrying every violated constraint plus the offending input
//   - Example generation and JSON Schema projection for documentation
//
// Basic usage:
//
//	shape := &schema.Shape{
//	    Name: "OrderPlaced",
//	    Properties: map[string]*schema.PropertyDef{
//	        "orderId": {Type: "string", Format: "uuid"},
//	        "amount":  {Type: "number", Minimum: schema.Float(0)},
//	    },
//	    Required: []string{"orderId", "amount"},
//	}
//
//	if err := shape.Validate(ctx, payload); err != nil {
//	    var verr *schema.ValidationError
//	    if errors.As(err, &verr) {
//	        for _, v := range verr.Violations {
//	            log.Printf("%s: %s", v.Field, v.Message)
//	        }
//	    }
//	}
package schema
