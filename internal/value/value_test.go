package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	ts := time.Date(2016, 1, 15, 10, 30, 45, 123_000_000, time.UTC)

	tests := []struct {
		name  string
		field string
		v     Value
		wire  string
	}{
		{"null", "", Null{}, `null`},
		{"number", "", Number(42), `42`},
		{"fraction", "", Number(1.5), `1.5`},
		{"string", "", String("hello"), `"hello"`},
		{"bool", "", Bool(true), `true`},
		{"date", "", NewDate(ts), `{"__type":"Date","iso":"2016-01-15T10:30:45.123Z"}`},
		{"bytes", "", Bytes("hi there"), `{"__type":"Bytes","base64":"aGkgdGhlcmU="}`},
		{"pointer", "", NewPointer("_User", "u1"), `{"__type":"Pointer","className":"_User","objectId":"u1"}`},
		{"geopoint", "", GeoPoint{Latitude: 40.5, Longitude: -73.25}, `{"__type":"GeoPoint","latitude":40.5,"longitude":-73.25}`},
		{"file", "", File{Name: "a.png", URL: "https://files/a.png"}, `{"__type":"File","name":"a.png","url":"https://files/a.png"}`},
		{"acl", ACLField, OwnerACL("u1"), `{"*":{"read":true},"u1":{"read":true,"write":true}}`},
		{"array", "", Array{Number(1), String("x"), Null{}}, `[1,"x",null]`},
		{"object", "", Object{"b": Number(2), "a": String("z")}, `{"a":"z","b":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.v)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wire, string(data))

			parsed, err := ParseField(tt.field, data)
			require.NoError(t, err)
			assert.True(t, Equal(tt.v, parsed), "parse(marshal(v)) != v: %#v vs %#v", tt.v, parsed)

			again, err := Marshal(parsed)
			require.NoError(t, err)
			assert.Equal(t, string(data), string(again), "reserialization must be byte-identical")
		})
	}
}

func TestFromJSON_UnknownTypeStaysObject(t *testing.T) {
	v, err := Parse([]byte(`{"__type":"Relation","className":"Tag"}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok, "expected Object, got %T", v)
	assert.Equal(t, String("Relation"), obj["__type"])
}

func TestFromJSON_MalformedDateStaysObject(t *testing.T) {
	v, err := Parse([]byte(`{"__type":"Date","iso":"yesterday"}`))
	require.NoError(t, err)
	_, ok := v.(Object)
	assert.True(t, ok)
}

func TestParseDate_WithoutMillis(t *testing.T) {
	d, err := ParseDate("2016-01-15T10:30:45Z")
	require.NoError(t, err)
	assert.Equal(t, "2016-01-15T10:30:45.000Z", d.ISO())
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same number", Number(3), Number(3), true},
		{"number vs string", Number(3), String("3"), false},
		{"null vs null", Null{}, nil, true},
		{"null vs value", Null{}, String(""), false},
		{"pointer ignores connections", Pointer{ClassName: "A", ObjectID: "1", Connections: map[string]Pointer{"x": NewPointer("B", "2")}}, NewPointer("A", "1"), true},
		{"pointer different class", NewPointer("A", "1"), NewPointer("B", "1"), false},
		{"dates", NewDate(time.Unix(100, 0)), NewDate(time.Unix(100, 0)), true},
		{"acl order independent", ACL{Rules: []ACLRule{{"a", true, false}, {"b", true, true}}}, ACL{Rules: []ACLRule{{"b", true, true}, {"a", true, false}}}, true},
		{"arrays", Array{Number(1), Number(2)}, Array{Number(1), Number(2)}, true},
		{"arrays differ", Array{Number(1)}, Array{Number(2)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a), "equality must be symmetric")
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Value
		want   int
		wantOK bool
	}{
		{"numbers", Number(1), Number(2), -1, true},
		{"strings", String("b"), String("a"), 1, true},
		{"equal", String("a"), String("a"), 0, true},
		{"bools", Bool(false), Bool(true), -1, true},
		{"dates", NewDate(time.Unix(200, 0)), NewDate(time.Unix(100, 0)), 1, true},
		{"null left", Null{}, Number(1), 0, false},
		{"null right", Number(1), Null{}, 0, false},
		{"mixed kinds", Number(1), String("1"), 0, false},
		{"pointers", NewPointer("A", "1"), NewPointer("A", "2"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compare(tt.a, tt.b)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender(t *testing.T) {
	s, ok := Render(Number(12))
	require.True(t, ok)
	assert.Equal(t, "12", s)

	_, ok = Render(Null{})
	assert.False(t, ok)

	_, ok = Render(Array{})
	assert.False(t, ok)
}

func TestACL_Permissions(t *testing.T) {
	acl := OwnerACL("u1")
	assert.True(t, acl.CanRead("anyone"))
	assert.False(t, acl.CanWrite("anyone"))
	assert.True(t, acl.CanWrite("u1"))

	pub := PublicACL()
	assert.True(t, pub.CanWrite("anyone"))
}

func TestOf(t *testing.T) {
	ts := time.Date(2020, 5, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	assert.Equal(t, NewDate(ts), Of(ts))
	assert.Equal(t, Number(7), Of(7))
	assert.Equal(t, String("s"), Of("s"))
	assert.Equal(t, Null{}, Of(nil))
	assert.Equal(t, Array{String("a"), String("b")}, Of([]string{"a", "b"}))
	assert.Equal(t, Bytes("raw"), Of([]byte("raw")))
}
