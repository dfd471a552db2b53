package intercept

import (
	"reflect"
)

// newClassProxy builds a *S whose exported func fields dispatch into the
// instance's pipelines. The remaining fields start as a copy of the
// target's, so methods declared on *S observe the target's state while
// their calls through func fields are intercepted.
func (t *Type) newClassProxy(in *Instance) any {
	pv := reflect.New(t.shape.Contract)
	if in.targetValue.IsValid() && !in.targetValue.IsNil() {
		pv.Elem().Set(in.targetValue.Elem())
	}
	for _, m := range t.methods {
		pv.Elem().Field(m.field).Set(reflect.MakeFunc(m.Func, in.classDispatcher(m)))
	}
	return pv.Interface()
}

func (in *Instance) classDispatcher(m *Method) func([]reflect.Value) []reflect.Value {
	return func(args []reflect.Value) []reflect.Value {
		boxed := make([]any, len(args))
		for i, a := range args {
			boxed[i] = a.Interface()
		}
		return in.dispatch(m, nil, boxed).reflectValues(m)
	}
}
