package render

import (
	"bytes"
	"fmt"
	"text/template"

	"agsb/internal/state"
)

// NginxSnippet is a location block routing the WebSocket path to the
// loopback inbound, meant to be included in an existing server block.
func NginxSnippet(in *state.Installation, snippetPath string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# agsb WebSocket route\n")
	fmt.Fprintf(&b, "# include it inside the server block of your nginx.conf:\n")
	fmt.Fprintf(&b, "#   include %s;\n\n", snippetPath)
	b.WriteString(wsLocation(in.WSPath(), in.Port, ""))
	return b.Bytes()
}

func wsLocation(path string, port int, indent string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%slocation = %s {\n", indent, path)
	for _, l := range []string{
		fmt.Sprintf("proxy_pass http://127.0.0.1:%d;", port),
		"proxy_http_version 1.1;",
		"proxy_set_header Upgrade $http_upgrade;",
		`proxy_set_header Connection "upgrade";`,
		"proxy_set_header Host $host;",
		"proxy_set_header X-Real-IP $remote_addr;",
		"proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;",
	} {
		fmt.Fprintf(&b, "%s    %s\n", indent, l)
	}
	fmt.Fprintf(&b, "%s}\n", indent)
	return b.String()
}

// Site is one service from the shared registry as Nginx sees it.
type Site struct {
	Name         string
	Domain       string
	WSPath       string
	InternalPort int
	WebRoot      string
	CertPath     string
	KeyPath      string
}

const (
	defaultCert = "/etc/nginx/ssl/default.crt"
	defaultKey  = "/etc/nginx/ssl/default.key"
)

var mainTmpl = template.Must(template.New("nginx").Funcs(template.FuncMap{
	"ws": func(s Site) string { return wsLocation(s.WSPath, s.InternalPort, "        ") },
}).Parse(`# generated by agsb
user nginx;
pid /run/nginx.pid;
worker_processes auto;
error_log /var/log/nginx/error.log warn;
events { worker_connections 1024; }
http {
    include       /etc/nginx/mime.types;
    default_type  application/octet-stream;
    sendfile on; tcp_nopush on; keepalive_timeout 65;
    log_format  main  '$remote_addr - $remote_user [$time_local] "$request" '
                      '$status $body_bytes_sent "$http_referer" '
                      '"$http_user_agent" "$http_x_forwarded_for"';
    access_log  /var/log/nginx/access.log  main;
    map $http_upgrade $connection_upgrade { default upgrade; '' close; }
    map $host $ssl_certificate_file {
{{- range .Sites}}
        {{.Domain}}    {{.CertPath}};
{{- end}}
        default             {{.DefaultCert}};
    }
    map $host $ssl_certificate_key_file {
{{- range .Sites}}
        {{.Domain}}    {{.KeyPath}};
{{- end}}
        default             {{.DefaultKey}};
    }

    server {
        listen 443 ssl http2;
        listen [::]:443 ssl http2;
        server_name{{range .Names}} {{.}}{{end}} _;
        ssl_certificate         $ssl_certificate_file;
        ssl_certificate_key     $ssl_certificate_key_file;
        ssl_protocols           TLSv1.2 TLSv1.3;
{{range .Sites}}{{if and .WSPath .InternalPort}}
{{ws .}}{{end}}{{end}}
        location / {
{{- range .Sites}}{{if .WebRoot}}
            if ($host = "{{.Domain}}") {
                root {{.WebRoot}};
                index index.html;
                try_files $uri $uri/ =404;
            }
{{- end}}{{end}}
            return 404;
        }
    }
    server {
        listen 80 default_server;
        listen [::]:80 default_server;
        server_name _;
{{range .Sites}}{{if and .WSPath .InternalPort}}
{{ws .}}{{end}}{{end}}
        location / {
            return 301 https://$host$request_uri;
        }
    }
}
`))

// NginxMain renders a complete nginx.conf serving every site. Sites without
// a domain are skipped; the first site's certificate becomes the default.
// The port 80 server answers the websocket paths too, since cloudflared
// reaches Nginx over plain HTTP.
func NginxMain(sites []Site) ([]byte, error) {
	data := struct {
		Sites       []Site
		Names       []string
		DefaultCert string
		DefaultKey  string
	}{DefaultCert: defaultCert, DefaultKey: defaultKey}
	seen := map[string]bool{}
	for _, s := range sites {
		if s.Domain == "" {
			continue
		}
		if s.CertPath == "" {
			s.CertPath = fmt.Sprintf("/etc/nginx/ssl/%s.pem", s.Name)
		}
		if s.KeyPath == "" {
			s.KeyPath = fmt.Sprintf("/etc/nginx/ssl/%s.key", s.Name)
		}
		data.Sites = append(data.Sites, s)
		if !seen[s.Domain] {
			seen[s.Domain] = true
			data.Names = append(data.Names, s.Domain)
		}
	}
	if len(data.Sites) > 0 {
		data.DefaultCert = data.Sites[0].CertPath
		data.DefaultKey = data.Sites[0].KeyPath
	}
	var b bytes.Buffer
	if err := mainTmpl.Execute(&b, data); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
